package templates

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/thumbforge/internal/domain"
	"github.com/rpattn/thumbforge/internal/httpjson"
	"github.com/rpattn/thumbforge/internal/roles"
)

// Handler serves /api/roles and /api/templates.
type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api"), "/"), "/")

	switch {
	case len(segments) == 1 && segments[0] == "roles" && r.Method == http.MethodGet:
		h.handleListRoles(w, r)
	case len(segments) == 0 || segments[0] != "templates":
		httpjson.NotFound(w, r)
	case len(segments) == 1 && r.Method == http.MethodGet:
		h.handleList(w, r)
	case len(segments) == 1 && r.Method == http.MethodPost:
		h.handleCreate(w, r)
	case len(segments) == 2 && segments[1] == "latest" && r.Method == http.MethodGet:
		h.handleLatest(w, r)
	case len(segments) == 3 && segments[1] == "by-role" && r.Method == http.MethodGet:
		h.handleByRole(w, r, segments[2])
	case len(segments) == 2 || len(segments) == 3:
		id, err := uuid.Parse(segments[1])
		if err != nil {
			httpjson.Invalid(w, r, "id", "invalid template id: %v", err)
			return
		}
		action := ""
		if len(segments) == 3 {
			action = segments[2]
		}
		h.routeTemplate(w, r, id, action)
	default:
		httpjson.NotFound(w, r)
	}
}

func (h *Handler) routeTemplate(w http.ResponseWriter, r *http.Request, id uuid.UUID, action string) {
	switch {
	case action == "" && r.Method == http.MethodGet:
		h.handleGet(w, r, id)
	case action == "" && r.Method == http.MethodPatch:
		h.handleUpdate(w, r, id)
	case action == "" && r.Method == http.MethodDelete:
		h.handleDelete(w, r, id)
	case action == "roles" && r.Method == http.MethodGet:
		h.handleTemplateRoles(w, r, id)
	case action == "stats" && r.Method == http.MethodGet:
		h.handleStats(w, r, id)
	case action == "deactivate" && r.Method == http.MethodPost:
		h.handleDeactivate(w, r, id)
	case action == "validate" && r.Method == http.MethodPost:
		h.handleValidate(w, r, id)
	case action == "clone" && r.Method == http.MethodPost:
		h.handleClone(w, r, id)
	default:
		httpjson.NotFound(w, r)
	}
}

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	registry := h.service.Registry()
	category := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("category")))
	var list []roles.Role
	if category == "" {
		list = registry.All()
	} else {
		list = registry.ByCategory(roles.Category(category))
	}
	httpjson.WriteJSON(w, http.StatusOK, map[string]any{
		"roles":      list,
		"categories": registry.Categories(),
		"required":   registry.RequiredRoles(),
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var (
		list []domain.Template
		err  error
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("show_id")); raw != "" {
		showID, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			httpjson.Invalid(w, r, "show_id", "invalid show_id: %v", parseErr)
			return
		}
		list, err = h.service.GetActiveForShow(r.Context(), showID)
	} else {
		list, err = h.service.GetGlobalTemplates(r.Context())
	}
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Template{}
	}
	httpjson.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var showID *uuid.UUID
	if raw := strings.TrimSpace(query.Get("show_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpjson.Invalid(w, r, "show_id", "invalid show_id: %v", err)
			return
		}
		showID = &id
	}
	t, err := h.service.GetLatestVersion(r.Context(), query.Get("name"), showID)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) handleByRole(w http.ResponseWriter, r *http.Request, role string) {
	list, err := h.service.GetTemplatesUsingRole(r.Context(), role)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Template{}
	}
	httpjson.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	t, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpjson.Decode(r, &input); err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	t, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusCreated, t)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var patch Patch
	if err := httpjson.Decode(r, &patch); err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	t, err := h.service.Update(r.Context(), id, patch)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTemplateRoles(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	list, err := h.service.GetAllRoles(r.Context(), id)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	stats, err := h.service.GetUsageStats(r.Context(), id)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.service.Deactivate(r.Context(), id); err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	t, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, t)
}

type validatePayload struct {
	AssetMap map[string]string     `json:"asset_map"`
	Bindings []domain.AssetBinding `json:"bindings"`
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var payload validatePayload
	if err := httpjson.Decode(r, &payload); err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	bindings := append(domain.BindingsFromMap(payload.AssetMap), payload.Bindings...)
	result, err := h.service.ValidateComposition(r.Context(), id, bindings)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, result)
}

type clonePayload struct {
	NewVersion    int   `json:"new_version"`
	Modifications Patch `json:"modifications"`
	DeactivateOld bool  `json:"deactivate_old"`
}

func (h *Handler) handleClone(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var payload clonePayload
	if err := httpjson.Decode(r, &payload); err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	clone, err := h.service.CloneAsNewVersion(r.Context(), id, payload.NewVersion, payload.Modifications)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	result := cloneResult{Template: clone}
	if payload.DeactivateOld {
		// The clone is already stored; a failed deactivation is reported next to it.
		if err := h.service.Deactivate(r.Context(), id); err != nil {
			_, body := httpjson.Classify(err)
			result.DeactivationError = &body
			h.service.logger.WarnContext(r.Context(), "clone stored but source deactivation failed",
				"template_id", id, "clone_id", clone.ID, "error", err)
		}
	}
	httpjson.WriteJSON(w, http.StatusCreated, result)
}

// cloneResult is the clone response: the new template plus, when the source
// could not be deactivated, why.
type cloneResult struct {
	domain.Template
	DeactivationError *httpjson.ErrorBody `json:"deactivation_error,omitempty"`
}
