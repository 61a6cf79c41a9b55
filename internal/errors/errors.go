// Package errors provides coded application errors shared across the
// repository, service and handler layers. The code decides how a failure is
// rendered to the requesting user and which HTTP status the query API
// returns.
package errors

import (
	"errors"
	"fmt"
)

// ErrCode classifies an application error.
type ErrCode string

const (
	ErrCodeValidation   ErrCode = "VALIDATION"
	ErrCodeUnauthorized ErrCode = "UNAUTHORIZED"
	ErrCodeNotFound     ErrCode = "NOT_FOUND"
	ErrCodeConflict     ErrCode = "CONFLICT"
	ErrCodeInternal     ErrCode = "INTERNAL"
)

// Error is a coded application error with an optional wrapped cause.
type Error struct {
	Code    ErrCode
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error without a cause.
func New(code ErrCode, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code ErrCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound builds the standard not-found error for a resource.
func NotFound(resource, id string) error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s '%s' not found", resource, id)}
}

// InvalidInput builds a validation error for a named field.
func InvalidInput(field, message string) error {
	return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf("%s: %s", field, message)}
}

// Unauthorized builds an authorization error.
func Unauthorized(message string) error {
	return &Error{Code: ErrCodeUnauthorized, Message: message}
}

// Conflict builds a state-conflict error.
func Conflict(message string) error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// Code extracts the ErrCode from an error chain. Unclassified errors are
// reported as internal.
func Code(err error) ErrCode {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Message returns the user-facing message of a coded error, or a generic
// retry-later line for unclassified (infrastructure) errors.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Code != ErrCodeInternal {
		return appErr.Message
	}
	return "Something went wrong on our side. Please try again in a few minutes."
}

// Is reports whether err carries the given code.
func Is(err error, code ErrCode) bool {
	return Code(err) == code
}
