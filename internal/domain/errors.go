package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrCompliance = errors.New("composition does not satisfy template")
	ErrIntegrity  = errors.New("version integrity violated")
)

// ValidationError reports malformed or missing caller input.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports an identifier that does not resolve.
type NotFoundError struct {
	Resource string
	ID       string
}

func NewNotFoundError(resource string, id any) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: fmt.Sprint(id)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ComplianceViolation lists every required role a composition leaves unbound.
type ComplianceViolation struct {
	TemplateID uuid.UUID
	Missing    []string
	Errors     []string
}

func (e *ComplianceViolation) Error() string {
	return fmt.Sprintf("template %s requires roles: %s", e.TemplateID, strings.Join(e.Missing, ", "))
}

func (e *ComplianceViolation) Is(target error) bool { return target == ErrCompliance }

// IntegrityError signals a snapshot write that would break version
// monotonicity. It is never retried.
type IntegrityError struct {
	CompositionID uuid.UUID
	VersionNumber int
	Err           error
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("composition %s version %d", e.CompositionID, e.VersionNumber)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

func (e *IntegrityError) Unwrap() error { return e.Err }
