package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActorOrSystem(t *testing.T) {
	assert.Equal(t, SystemActor, ActorOrSystem(context.Background()))
	assert.Equal(t, SystemActor, ActorOrSystem(ContextWithActorID(context.Background(), "  ")))
	assert.Equal(t, "editor-1", ActorOrSystem(ContextWithActorID(context.Background(), "editor-1")))
}

func TestActorMiddleware(t *testing.T) {
	var seen string
	handler := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorOrSystem(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "producer-7")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "producer-7", seen)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, SystemActor, seen)
}
