package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const actorIDKey contextKey = "actorID"

// HeaderUserID carries the acting user's id on incoming requests.
const HeaderUserID = "X-User-ID"

// SystemActor is recorded when no user is attached to the request.
const SystemActor = "system"

// ContextWithActorID returns a new context that carries the acting user.
func ContextWithActorID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorIDKey, strings.TrimSpace(id))
}

// ActorIDFromContext retrieves the acting user from the context, if any.
func ActorIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(actorIDKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ActorOrSystem returns the acting user or SystemActor.
func ActorOrSystem(ctx context.Context) string {
	if id, ok := ActorIDFromContext(ctx); ok {
		return id
	}
	return SystemActor
}

// ActorMiddleware copies the X-User-ID header into the request context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(HeaderUserID)); id != "" {
			r = r.WithContext(ContextWithActorID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
