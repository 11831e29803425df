// Package httpjson holds the JSON response helpers shared by the HTTP handlers.
package httpjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/rpattn/thumbforge/internal/domain"
)

// ErrorBody is the response shape for every failed request.
type ErrorBody struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	Field      string   `json:"field,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// WriteError maps err onto a status code and error kind. Unclassified errors
// are logged and reported as 500 without their text.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := Classify(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	WriteJSON(w, status, body)
}

// Invalid reports malformed input that never reached a service. It takes the
// same ValidationError path as service-side validation failures.
func Invalid(w http.ResponseWriter, r *http.Request, field, format string, args ...any) {
	WriteError(w, r, domain.NewValidationError(field, format, args...))
}

func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, ErrorBody{Error: "not_found", Message: fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path)})
}

// Classify returns the status and body WriteError would send for err.
func Classify(err error) (int, ErrorBody) {
	var (
		validation *domain.ValidationError
		compliance *domain.ComplianceViolation
		notFound   *domain.NotFoundError
	)
	switch {
	case errors.As(err, &compliance):
		return http.StatusUnprocessableEntity, ErrorBody{
			Error:      "compliance_violation",
			Message:    compliance.Error(),
			Violations: compliance.Errors,
		}
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, ErrorBody{Error: "validation_error", Message: validation.Error(), Field: validation.Field}
	case errors.As(err, &notFound):
		return http.StatusNotFound, ErrorBody{Error: "not_found", Message: notFound.Error()}
	default:
		return http.StatusInternalServerError, ErrorBody{Error: "internal_error", Message: "internal server error"}
	}
}

// Decode reads a JSON body into dst. An empty body leaves dst untouched; a
// malformed one is reported as a ValidationError on "body".
func Decode(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.NewValidationError("body", "invalid JSON payload: %v", err)
	}
	return nil
}
