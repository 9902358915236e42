// Package errors provides structured errors with context fields and HTTP status mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the category of an error. Its values double as the wire codes
// clients receive, on REST responses and websocket replies alike.
type ErrorType string

const (
	TypeValidation      ErrorType = "invalid_argument"
	TypeUnauthenticated ErrorType = "unauthenticated"
	TypeForbidden       ErrorType = "forbidden"
	TypeNotFound        ErrorType = "not_found"
	TypeConflict        ErrorType = "conflict"
	TypeRateLimited     ErrorType = "rate_limited"
	TypeUnavailable     ErrorType = "unavailable"
	TypeInternal        ErrorType = "internal"
	TypeExternal        ErrorType = "external"
)

type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeUnauthenticated:
		return http.StatusUnauthorized
	case TypeForbidden:
		return http.StatusForbidden
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeRateLimited:
		return http.StatusTooManyRequests
	case TypeUnavailable:
		return http.StatusServiceUnavailable
	case TypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Severe reports whether the error points at a server-side fault rather than a caller mistake.
func (e *Error) Severe() bool {
	return e.Type == TypeInternal || e.Type == TypeExternal || e.Type == TypeUnavailable
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

func ValidationError(message string) *Error      { return newError(TypeValidation, message, nil) }
func UnauthenticatedError(message string) *Error { return newError(TypeUnauthenticated, message, nil) }
func ForbiddenError(message string) *Error       { return newError(TypeForbidden, message, nil) }
func NotFoundError(message string) *Error        { return newError(TypeNotFound, message, nil) }
func ConflictError(message string) *Error        { return newError(TypeConflict, message, nil) }

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

func ExternalError(message string, cause error) *Error {
	return newError(TypeExternal, message, cause)
}

// WithContext adds a context field (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithField is an alias for WithContext.
func (e *Error) WithField(key string, value any) *Error {
	return e.WithContext(key, value)
}

// WithCause attaches the underlying error (chainable).
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// ErrorResponse is the JSON body sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructuredError returns the *Error in err's chain, or wraps err as internal.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}

// FromStatus maps an HTTP status code to a structured error.
func FromStatus(status int, message string) *Error {
	var t ErrorType
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		t = TypeValidation
	case http.StatusUnauthorized:
		t = TypeUnauthenticated
	case http.StatusForbidden:
		t = TypeForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		t = TypeNotFound
	case http.StatusConflict:
		t = TypeConflict
	case http.StatusTooManyRequests:
		t = TypeRateLimited
	case http.StatusServiceUnavailable:
		t = TypeUnavailable
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		t = TypeExternal
	default:
		t = TypeInternal
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return newError(t, message, nil)
}
