package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownTenant     = errors.New("unknown tenant")
	ErrConnectionFailure = errors.New("tenant storage unreachable")
	ErrNotFound          = errors.New("not found")
	ErrExpired           = errors.New("expired")
	ErrNotRestorable     = errors.New("backup not restorable")
	ErrCannotDelete      = errors.New("backup cannot be deleted")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrConflict          = errors.New("conflict")
	ErrContextReleased   = errors.New("data context released")
	ErrUnauthorized      = errors.New("unauthorized")
)

// GuardKind tags a lifecycle guard violation.
type GuardKind string

const (
	GuardExpired           GuardKind = "expired"
	GuardNotRestorable     GuardKind = "not_restorable"
	GuardCannotDelete      GuardKind = "cannot_delete"
	GuardInvalidTransition GuardKind = "invalid_transition"
)

// GuardError is returned by the state checks that run before every mutating
// lifecycle transition. It matches the corresponding sentinel with errors.Is.
type GuardError struct {
	Kind   GuardKind
	Reason string
}

func (e *GuardError) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *GuardError) Is(target error) bool {
	switch e.Kind {
	case GuardExpired:
		return target == ErrExpired
	case GuardNotRestorable:
		return target == ErrNotRestorable
	case GuardCannotDelete:
		return target == ErrCannotDelete
	case GuardInvalidTransition:
		return target == ErrInvalidTransition
	}
	return false
}

func guard(kind GuardKind, format string, args ...any) error {
	return &GuardError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Validationf wraps ErrValidation with a message for malformed input.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// SchemaViolation lists the JSON Schema failures of a payload.
type SchemaViolation struct {
	Errors []string
}

func (e *SchemaViolation) Error() string {
	return "schema violation: " + strings.Join(e.Errors, "; ")
}

func (e *SchemaViolation) Is(target error) bool {
	return target == ErrValidation
}
