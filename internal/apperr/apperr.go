// ABOUTME: Typed application errors carrying the error taxonomy across HTTP and WebSocket
// ABOUTME: Each error has a kind (maps to HTTP status), a wire code, and a client-safe message

package apperr

import (
	"fmt"
	"net/http"
)

// Kind classifies an application error. The kind decides the HTTP status
// and the default wire code.
type Kind string

const (
	KindValidation     Kind = "VALIDATION_ERROR"
	KindAuthentication Kind = "AUTHENTICATION_ERROR"
	KindForbidden      Kind = "FORBIDDEN"
	KindNotFound       Kind = "NOT_FOUND"
	KindInternal       Kind = "INTERNAL_ERROR"
)

// HTTPStatus maps an error kind to its HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed application error. Message is safe to show to clients;
// internal detail stays in the wrapped cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithCode overrides the wire code (used where the WS protocol names a
// code different from the kind, e.g. SEND_FAILED).
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetails attaches per-field detail to a validation error.
func (e *Error) WithDetails(details map[string]string) *Error {
	e.Details = details
	return e
}

// WithCause records the underlying error for logs without exposing it.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message}
}

// Validation returns a VALIDATION_ERROR (HTTP 400).
func Validation(message string) *Error {
	return newError(KindValidation, message)
}

// Validationf returns a VALIDATION_ERROR with a formatted message.
func Validationf(format string, args ...any) *Error {
	return newError(KindValidation, fmt.Sprintf(format, args...))
}

// Unauthorized returns an AUTHENTICATION_ERROR (HTTP 401).
func Unauthorized(message string) *Error {
	return newError(KindAuthentication, message)
}

// Forbidden returns a FORBIDDEN error (HTTP 403).
func Forbidden(message string) *Error {
	return newError(KindForbidden, message)
}

// NotFound returns a NOT_FOUND error (HTTP 404).
func NotFound(message string) *Error {
	return newError(KindNotFound, message)
}

// Internal returns an INTERNAL_ERROR (HTTP 500) with a generic client
// message; err is kept as the cause for logging.
func Internal(err error) *Error {
	e := newError(KindInternal, "An unexpected error occurred")
	e.cause = err
	return e
}
