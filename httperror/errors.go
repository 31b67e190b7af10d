// Package httperror provides HTTP error types and constructors for use in handlers.
//
// Errors carry a status code, a client-facing message, an optional cause and the
// stack captured at construction. The dispatch pipeline turns them into the JSON
// error envelope.
package httperror

import (
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

// Error implements the error interface with HTTP status code support.
type Error struct {
	code    int
	message string
	cause   error
	stack   pkgerrors.StackTrace
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the HTTP status code.
func (e *Error) Code() int { return e.code }

// StatusCode returns the HTTP status code.
func (e *Error) StatusCode() int { return e.code }

// Message returns the error message without the cause.
func (e *Error) Message() string { return e.message }

// Unwrap returns the underlying cause for errors.As/errors.Is support.
func (e *Error) Unwrap() error { return e.cause }

// StackTrace returns the frames recorded when the error was constructed.
func (e *Error) StackTrace() pkgerrors.StackTrace { return e.stack }

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// callers records the stack of the constructor's caller.
func callers() pkgerrors.StackTrace {
	st := pkgerrors.New("").(stackTracer).StackTrace()
	// drop callers itself and the exported constructor
	if len(st) > 2 {
		return st[2:]
	}
	return st
}

func newError(code int, message string, cause error) *Error {
	return &Error{code: code, message: message, cause: cause}
}

// New creates a new HTTP error with the given code and message.
func New(code int, message string) *Error {
	e := newError(code, message, nil)
	e.stack = callers()
	return e
}

// Newf creates a new HTTP error with the given code and formatted message.
func Newf(code int, format string, args ...any) *Error {
	e := newError(code, fmt.Sprintf(format, args...), nil)
	e.stack = callers()
	return e
}

// Wrap wraps an underlying error with an HTTP error.
func Wrap(code int, message string, cause error) *Error {
	e := newError(code, message, cause)
	e.stack = callers()
	return e
}

// Wrapf wraps an underlying error with an HTTP error and formatted message.
func Wrapf(code int, cause error, format string, args ...any) *Error {
	e := newError(code, fmt.Sprintf(format, args...), cause)
	e.stack = callers()
	return e
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *Error {
	e := newError(http.StatusBadRequest, message, nil)
	e.stack = callers()
	return e
}

// BadRequestf creates a 400 Bad Request error with a formatted message.
func BadRequestf(format string, args ...any) *Error {
	e := newError(http.StatusBadRequest, fmt.Sprintf(format, args...), nil)
	e.stack = callers()
	return e
}

// Unauthorized creates a 401 Unauthorized error.
func Unauthorized(message string) *Error {
	e := newError(http.StatusUnauthorized, message, nil)
	e.stack = callers()
	return e
}

// Forbidden creates a 403 Forbidden error.
func Forbidden(message string) *Error {
	e := newError(http.StatusForbidden, message, nil)
	e.stack = callers()
	return e
}

// NotFound creates a 404 Not Found error.
func NotFound(message string) *Error {
	e := newError(http.StatusNotFound, message, nil)
	e.stack = callers()
	return e
}

// NotFoundf creates a 404 Not Found error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	e := newError(http.StatusNotFound, fmt.Sprintf(format, args...), nil)
	e.stack = callers()
	return e
}

// MethodNotAllowed creates a 405 Method Not Allowed error.
func MethodNotAllowed(message string) *Error {
	e := newError(http.StatusMethodNotAllowed, message, nil)
	e.stack = callers()
	return e
}

// Conflict creates a 409 Conflict error.
func Conflict(message string) *Error {
	e := newError(http.StatusConflict, message, nil)
	e.stack = callers()
	return e
}

// UnprocessableEntity creates a 422 Unprocessable Entity error.
func UnprocessableEntity(message string) *Error {
	e := newError(http.StatusUnprocessableEntity, message, nil)
	e.stack = callers()
	return e
}

// TooManyRequests creates a 429 Too Many Requests error.
func TooManyRequests(message string) *Error {
	e := newError(http.StatusTooManyRequests, message, nil)
	e.stack = callers()
	return e
}

// InternalError creates a 500 Internal Server Error.
func InternalError(message string) *Error {
	e := newError(http.StatusInternalServerError, message, nil)
	e.stack = callers()
	return e
}

// ServiceUnavailable creates a 503 Service Unavailable error.
func ServiceUnavailable(message string) *Error {
	e := newError(http.StatusServiceUnavailable, message, nil)
	e.stack = callers()
	return e
}

// StatusOf returns the HTTP status carried by err, or 500 when none is present.
// Any error in the chain implementing StatusCode() int is honored.
func StatusOf(err error) int {
	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		if code := coded.StatusCode(); code >= 100 && code <= 599 {
			return code
		}
	}
	return http.StatusInternalServerError
}

// MessageOf returns the client-facing message for err.
func MessageOf(err error) string {
	if err == nil {
		return http.StatusText(http.StatusInternalServerError)
	}
	var httpErr *Error
	if errors.As(err, &httpErr) && httpErr.message != "" {
		return httpErr.message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return http.StatusText(http.StatusInternalServerError)
}

// StackOf renders the first stack trace found in err's chain.
// It returns "" when no error in the chain carries one.
func StackOf(err error) string {
	var traced stackTracer
	if errors.As(err, &traced) && len(traced.StackTrace()) > 0 {
		return fmt.Sprintf("%s%+v", err.Error(), traced.StackTrace())
	}
	var raw interface{ Stack() string }
	if errors.As(err, &raw) {
		return raw.Stack()
	}
	return ""
}
