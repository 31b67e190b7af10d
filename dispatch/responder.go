package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/minifast/minifast/httperror"
	"github.com/minifast/minifast/router"
)

// PanicError carries a value recovered from a handler or middleware panic.
type PanicError struct {
	Value any
	stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Unwrap lets a panicked error keep its status.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Stack returns the goroutine stack captured at recovery.
func (e *PanicError) Stack() string { return string(e.stack) }

func recovered(v any) *PanicError {
	return &PanicError{Value: v, stack: debug.Stack()}
}

// ErrorBody is the JSON body written for failed requests.
type ErrorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Responder is the single place failed requests are answered.
type Responder struct {
	// Development includes stack traces in error bodies.
	Development bool
	Logger      *slog.Logger
}

// Fail answers r with err. If a response was already written nothing more is
// sent and the failure is only logged.
func (rs *Responder) Fail(w *router.Response, r *http.Request, err error) {
	logger := rs.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx := r.Context()
	status := httperror.StatusOf(err)

	if w.Written() {
		logger.ErrorContext(ctx, "error after response was sent",
			"method", r.Method,
			"path", r.URL.Path,
			"sent_status", w.Status(),
			"error", err,
		)
		return
	}

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	} else {
		logger.InfoContext(ctx, "request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}

	body := ErrorBody{Message: httperror.MessageOf(err)}
	if rs.Development {
		body.Stack = httperror.StackOf(err)
	}
	buf, mErr := json.Marshal(body)
	if mErr != nil {
		buf = []byte(`{"success":false,"message":"Internal Server Error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(buf, '\n'))
}
