package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/minifast/minifast/di"
	"github.com/minifast/minifast/httperror"
)

// ErrAlreadyResponded is returned by the response helpers once a response
// has been written.
var ErrAlreadyResponded = errors.New("router: response already written")

var validate = validator.New()

// Envelope is the JSON body written by the response helpers.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	ID      any    `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Response records whether a status line has been written.
type Response struct {
	http.ResponseWriter
	status int
}

// NewResponse wraps w. Wrapping a *Response returns it unchanged.
func NewResponse(w http.ResponseWriter) *Response {
	if r, ok := w.(*Response); ok {
		return r
	}
	return &Response{ResponseWriter: w}
}

// WriteHeader writes the status line once; later calls are ignored.
func (r *Response) WriteHeader(code int) {
	if r.status != 0 {
		return
	}
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *Response) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// Status returns the written status code, or 0.
func (r *Response) Status() int { return r.status }

// Written reports whether the status line has been sent.
func (r *Response) Written() bool { return r.status != 0 }

func (r *Response) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Call is the named-parameter record passed to handlers and middleware.
type Call struct {
	Request  *http.Request
	Response *Response

	// Params holds req, res and next, then path parameters, then body
	// fields. A body field replaces a path parameter of the same name.
	Params     di.Params
	PathParams map[string]string
	Fields     map[string]any
	Body       []byte

	next func() error
}

// NewCall returns a Call for one request with only req and res set.
func NewCall(w http.ResponseWriter, r *http.Request) *Call {
	res := NewResponse(w)
	return &Call{
		Request:    r,
		Response:   res,
		Params:     di.Params{"req": r, "res": res},
		PathParams: map[string]string{},
		Fields:     map[string]any{},
	}
}

// WithNext returns a shallow copy of c whose Next runs next.
func (c *Call) WithNext(next func() error) *Call {
	cp := *c
	cp.next = next
	return &cp
}

// Next runs the rest of the chain. It is a no-op for the final handler.
func (c *Call) Next() error {
	if c.next == nil {
		return nil
	}
	return c.next()
}

// Context returns the request context.
func (c *Call) Context() context.Context { return c.Request.Context() }

// Param returns the named parameter as a string, or "".
func (c *Call) Param(name string) string {
	switch v := c.Params[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case []string:
		if len(v) > 0 {
			return v[0]
		}
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// ParamInt returns the named parameter as an integer. A missing or malformed
// value is a 400.
func (c *Call) ParamInt(name string) (int64, error) {
	s := c.Param(name)
	if s == "" {
		return 0, httperror.BadRequestf("missing parameter %s", name)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, httperror.BadRequestf("parameter %s must be an integer", name)
	}
	return n, nil
}

// Bind decodes the request body into dst and validates it with its validate
// tags. Form bodies are bound through their decoded fields.
func (c *Call) Bind(dst any) error {
	body := c.Body
	if !json.Valid(body) {
		if len(c.Fields) == 0 {
			return httperror.BadRequest("request body is empty")
		}
		var err error
		if body, err = json.Marshal(c.Fields); err != nil {
			return httperror.Wrap(http.StatusBadRequest, "invalid request body", err)
		}
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return httperror.Wrap(http.StatusBadRequest, "invalid request body", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return httperror.Wrapf(http.StatusUnprocessableEntity, err, "%s failed %s validation", fe.Field(), fe.Tag())
		}
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return httperror.Wrap(http.StatusUnprocessableEntity, "invalid request body", err)
	}
	return nil
}

// Responded reports whether a response has been written.
func (c *Call) Responded() bool { return c.Response.Written() }

// JSON writes v with status.
func (c *Call) JSON(status int, v any) error {
	if c.Responded() {
		return ErrAlreadyResponded
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Response.Header().Set("Content-Type", "application/json")
	c.Response.WriteHeader(status)
	_, err = c.Response.Write(append(buf, '\n'))
	return err
}

// HTML writes an HTML document with status.
func (c *Call) HTML(status int, html []byte) error {
	if c.Responded() {
		return ErrAlreadyResponded
	}
	c.Response.Header().Set("Content-Type", "text/html; charset=utf-8")
	c.Response.WriteHeader(status)
	_, err := c.Response.Write(html)
	return err
}

// Success writes {"success": true, "data": data}.
func (c *Call) Success(data any) error {
	return c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

// Inserted writes {"success": true, "id": id} with 201 Created.
func (c *Call) Inserted(id any) error {
	return c.JSON(http.StatusCreated, Envelope{Success: true, ID: id})
}

// Done writes {"success": ok}.
func (c *Call) Done(ok bool) error {
	return c.JSON(http.StatusOK, Envelope{Success: ok})
}

// NoContent writes 204 with no body.
func (c *Call) NoContent() error {
	if c.Responded() {
		return ErrAlreadyResponded
	}
	c.Response.WriteHeader(http.StatusNoContent)
	return nil
}
