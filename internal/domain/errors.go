package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the boundary-facing classification of a failure.
type ErrorCode string

const (
	CodeValidation    ErrorCode = "VALIDATION_ERROR"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeStateConflict ErrorCode = "STATE_CONFLICT"
	CodeInternal      ErrorCode = "INTERNAL_ERROR"
)

var (
	// ErrValidation marks malformed input: mappings, row fields or action payloads.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a run, row or lead that is absent or outside the workspace.
	ErrNotFound = errors.New("not found")
	// ErrStateConflict marks an action that is invalid for the current state machine position.
	ErrStateConflict = errors.New("state conflict")
	// ErrDuplicateIdempotencyKey is returned by storage when a run with the same key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// CodeOf classifies err. Anything that is not a known sentinel is an internal error.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrStateConflict):
		return CodeStateConflict
	default:
		return CodeInternal
	}
}

// Validationf builds an ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf builds an ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// StateConflictf builds an ErrStateConflict with a formatted message.
func StateConflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStateConflict, fmt.Sprintf(format, args...))
}
