// Package apperror defines the error taxonomy shared by the store, the
// services and the HTTP handlers.
//
// Every constructor returns an *AppError that wraps one of the sentinels,
// so callers test the category with errors.Is and read the human-readable
// message with errors.As.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrStorage    = errors.New("storage error")
	ErrConnection = errors.New("connection error")
)

type AppError struct {
	Err     error  // sentinel category
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure, kept for logs
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the category and the cause to errors.Is/As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// StorageFailed reports a failed read or write of a backing document.
// A failed write means no state change happened.
func StorageFailed(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStorage,
		Message: fmt.Sprintf("storage %s failed", op),
		Cause:   cause,
	}
}

// ConnectionFailed reports a failed write to a subscriber connection.
// It only ever reaches logs: the subscriber is evicted silently.
func ConnectionFailed(subscriber string, cause error) *AppError {
	return &AppError{
		Err:     ErrConnection,
		Message: fmt.Sprintf("subscriber %s write failed", subscriber),
		Cause:   cause,
	}
}
