package engine

import (
	"errors"
	"fmt"
)

// ValidationErrorCode categorizes malformed trigger invocations.
type ValidationErrorCode string

const (
	// ErrCodeMissingEntityID indicates the transition has no entity id.
	ErrCodeMissingEntityID ValidationErrorCode = "MISSING_ENTITY_ID"

	// ErrCodeUnknownObject indicates an unknown trigger object.
	ErrCodeUnknownObject ValidationErrorCode = "UNKNOWN_OBJECT"

	// ErrCodeUnknownEvent indicates an unknown trigger event.
	ErrCodeUnknownEvent ValidationErrorCode = "UNKNOWN_EVENT"

	// ErrCodeEntityMismatch indicates the transition names a different
	// entity type than the trigger object.
	ErrCodeEntityMismatch ValidationErrorCode = "ENTITY_MISMATCH"
)

// ValidationError is the only error that crosses the orchestrator
// boundary for business reasons. No action has run when it is returned.
type ValidationError struct {
	// Code identifies the error category.
	Code ValidationErrorCode

	// Field names the offending input.
	Field string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
