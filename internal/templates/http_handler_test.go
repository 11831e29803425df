package templates

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/thumbforge/internal/domain"
	"github.com/rpattn/thumbforge/internal/httpjson"
	"github.com/rpattn/thumbforge/internal/repository"
	"github.com/rpattn/thumbforge/internal/repository/memstore"
	"github.com/rpattn/thumbforge/internal/roles"
)

func serve(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestHandlerCreateAndValidate(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHTTPHandler(svc)

	rec := serve(t, h, http.MethodPost, "/api/templates", defaultInput())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created domain.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = serve(t, h, http.MethodPost, "/api/templates/"+created.ID.String()+"/validate", map[string]any{
		"asset_map": map[string]string{roles.Background: "bg"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var result domain.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"CHAR.HOST.LALA missing"}, result.Errors)
}

func TestHandlerErrorMapping(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHTTPHandler(svc)

	input := defaultInput()
	input.RequiredRoles = nil
	rec := serve(t, h, http.MethodPost, "/api/templates", input)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body httpjson.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body.Error)

	rec = serve(t, h, http.MethodGet, "/api/templates/7f1b3c8e-2f4e-4f59-9a59-0d3f2f7c9b11", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, h, http.MethodGet, "/api/templates/not-a-uuid", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body.Error)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/templates", strings.NewReader(`{"name":`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body = httpjson.ErrorBody{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "body", body.Field)
}

func TestHandlerCloneDeactivatesOld(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHTTPHandler(svc)
	ctx := t.Context()

	source, err := svc.Create(ctx, defaultInput())
	require.NoError(t, err)

	rec := serve(t, h, http.MethodPost, "/api/templates/"+source.ID.String()+"/clone", map[string]any{
		"new_version":    2,
		"deactivate_old": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	old, err := svc.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	rec = serve(t, h, http.MethodGet, "/api/templates/latest?name=default", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var latest domain.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, 2, latest.Version)
}

// failingSetActive stores templates normally but cannot toggle is_active.
type failingSetActive struct {
	repository.TemplateRepository
}

func (failingSetActive) SetActive(context.Context, uuid.UUID, bool) error {
	return errors.New("connection reset")
}

func TestHandlerCloneReportsFailedDeactivation(t *testing.T) {
	store := memstore.New()
	svc := NewService(failingSetActive{store.Templates()}, store.Compositions())
	h := NewHTTPHandler(svc)

	source, err := svc.Create(t.Context(), defaultInput())
	require.NoError(t, err)

	rec := serve(t, h, http.MethodPost, "/api/templates/"+source.ID.String()+"/clone", map[string]any{
		"new_version":    2,
		"deactivate_old": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body struct {
		domain.Template
		DeactivationError *httpjson.ErrorBody `json:"deactivation_error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Version)
	assert.NotEqual(t, source.ID, body.ID)
	require.NotNil(t, body.DeactivationError)
	assert.Equal(t, "internal_error", body.DeactivationError.Error)

	clone, err := svc.GetByID(t.Context(), body.ID)
	require.NoError(t, err)
	assert.True(t, clone.IsActive)
	old, err := svc.GetByID(t.Context(), source.ID)
	require.NoError(t, err)
	assert.True(t, old.IsActive)
}

func TestHandlerListRoles(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHTTPHandler(svc)

	rec := serve(t, h, http.MethodGet, "/api/roles?category=char", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Roles []roles.Role `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Roles)
	for _, role := range body.Roles {
		assert.Equal(t, roles.CategoryCharacter, role.Category)
	}
}
