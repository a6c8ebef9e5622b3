package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness for the ops
// surface.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for the engine's failure kinds.
var (
	ErrNotFound          = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict          = New("CONFLICT", http.StatusConflict, "constraint violation")
	ErrValidation        = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInvalidTransition = New("INVALID_TRANSITION", http.StatusConflict, "lead state transition not allowed")
	ErrTransient         = New("TRANSIENT_IO", http.StatusServiceUnavailable, "transient i/o failure")
	ErrInternal          = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// IsKind reports whether err carries the given predefined error's code.
func IsKind(err error, kind *Error) bool {
	if err == nil || kind == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == kind.Code
}

// Retryable reports whether the failure is worth retrying on a later tick.
// Constraint violations and rejected transitions are permanent for the same
// input.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if IsKind(err, ErrConflict) || IsKind(err, ErrInvalidTransition) || IsKind(err, ErrValidation) {
		return false
	}
	return true
}
