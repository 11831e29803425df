package versioning

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/thumbforge/internal/domain"
	"github.com/rpattn/thumbforge/internal/httpjson"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handler serves /api/compositions.
type Handler struct {
	engine *Engine
}

func NewHTTPHandler(engine *Engine) http.Handler {
	return &Handler{engine: engine}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api"), "/"), "/")
	if segments[0] != "compositions" {
		httpjson.NotFound(w, r)
		return
	}

	switch {
	case len(segments) == 1 && r.Method == http.MethodPost:
		h.handleCreate(w, r)
		return
	case len(segments) == 2 && segments[1] == "modified-since" && r.Method == http.MethodGet:
		h.handleModifiedSince(w, r)
		return
	case len(segments) < 2:
		httpjson.NotFound(w, r)
		return
	}

	id, err := uuid.Parse(segments[1])
	if err != nil {
		httpjson.Invalid(w, r, "id", "invalid composition id: %v", err)
		return
	}
	rest := segments[2:]

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		h.handleGet(w, r, id)
	case len(rest) == 0 && r.Method == http.MethodPatch:
		h.handleUpdate(w, r, id)
	case len(rest) == 1 && rest[0] == "generation" && r.Method == http.MethodPost:
		h.handleGeneration(w, r, id)
	case len(rest) == 1 && rest[0] == "versions" && r.Method == http.MethodGet:
		h.handleHistory(w, r, id)
	case len(rest) == 2 && rest[0] == "versions" && rest[1] == "stats" && r.Method == http.MethodGet:
		h.handleStats(w, r, id)
	case len(rest) == 2 && rest[0] == "versions" && rest[1] == "export" && r.Method == http.MethodGet:
		h.handleExport(w, r, id)
	case len(rest) == 2 && rest[0] == "versions" && r.Method == http.MethodGet:
		h.handleVersion(w, r, id, rest[1])
	case len(rest) == 1 && rest[0] == "compare" && r.Method == http.MethodGet:
		h.handleCompare(w, r, id)
	case len(rest) == 1 && rest[0] == "revert" && r.Method == http.MethodPost:
		h.handleRevert(w, r, id)
	case len(rest) == 1 && rest[0] == "cleanup" && r.Method == http.MethodPost:
		h.handleCleanup(w, r, id)
	default:
		httpjson.NotFound(w, r)
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpjson.Decode(r, &input); err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	c, err := h.engine.CreateComposition(r.Context(), input)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	c, err := h.engine.GetComposition(r.Context(), id)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var patch domain.CompositionPatch
	if err := httpjson.Decode(r, &patch); err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	c, err := h.engine.UpdateComposition(r.Context(), id, patch, "")
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, c)
}

type generationPayload struct {
	Status string `json:"status"`
}

func (h *Handler) handleGeneration(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var payload generationPayload
	if err := httpjson.Decode(r, &payload); err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	c, err := h.engine.RecordGenerationOutcome(r.Context(), id, domain.GenerationStatus(payload.Status))
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	history, err := h.engine.GetVersionHistory(r.Context(), id)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, history)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	stats, err := h.engine.GetVersionStats(r.Context(), id)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var buf bytes.Buffer
	if err := h.engine.ExportHistory(r.Context(), id, &buf); err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "composition-"+id.String()+"-history.xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request, id uuid.UUID, raw string) {
	number, err := strconv.Atoi(raw)
	if err != nil {
		httpjson.Invalid(w, r, "version", "must be an integer")
		return
	}
	v, err := h.engine.GetSpecificVersion(r.Context(), id, number)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) handleCompare(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	query := r.URL.Query()
	a, errA := strconv.Atoi(query.Get("a"))
	b, errB := strconv.Atoi(query.Get("b"))
	if errA != nil || errB != nil {
		httpjson.Invalid(w, r, "a,b", "must be version numbers")
		return
	}
	cmp, err := h.engine.CompareVersions(r.Context(), id, a, b)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, cmp)
}

type revertPayload struct {
	TargetVersion int    `json:"target_version"`
	Reason        string `json:"reason"`
}

func (h *Handler) handleRevert(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var payload revertPayload
	if err := httpjson.Decode(r, &payload); err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	result, err := h.engine.RevertToVersion(r.Context(), id, payload.TargetVersion, "", payload.Reason)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, result)
}

type cleanupPayload struct {
	RetentionDays *int `json:"retention_days"`
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var payload cleanupPayload
	if err := httpjson.Decode(r, &payload); err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	days := h.engine.RetentionDays()
	if payload.RetentionDays != nil {
		days = *payload.RetentionDays
	}
	result, err := h.engine.CleanupOldVersions(r.Context(), id, days)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleModifiedSince(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	list, err := h.engine.GetModifiedSince(r.Context(), since)
	if err != nil {
		httpjson.WriteError(w, r, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, list)
}

// parseSince accepts an RFC 3339 timestamp or a bare date.
func parseSince(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, domain.NewValidationError("since", "is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, domain.NewValidationError("since", "invalid value %q: use RFC 3339 or YYYY-MM-DD", raw)
	}
	return t, nil
}
