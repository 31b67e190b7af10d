// Package dispatch serves a router.Table over HTTP.
//
// Each request moves through the same stages: the Call is built from the
// request (path parameters, then body fields), the route's middleware chain is
// composed around its handler, the chain runs, and any error or panic from any
// stage is handed to the Responder exactly once.
package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/minifast/minifast/di"
	"github.com/minifast/minifast/httperror"
	"github.com/minifast/minifast/metrics"
	"github.com/minifast/minifast/router"
)

// DefaultMaxBodyBytes bounds request bodies read into a Call.
const DefaultMaxBodyBytes = 1 << 20

// Pipeline dispatches requests to the routes of a Table.
type Pipeline struct {
	container *di.Container
	logger    *slog.Logger
	responder *Responder
	metrics   *metrics.Collector
	maxBody   int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithDevelopment includes stack traces in error responses.
func WithDevelopment(dev bool) Option {
	return func(p *Pipeline) { p.responder.Development = dev }
}

// WithMetrics records per-route request metrics in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// WithMaxBodyBytes bounds the request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(p *Pipeline) { p.maxBody = n }
}

// New returns a Pipeline resolving action handlers from c.
func New(c *di.Container, opts ...Option) *Pipeline {
	p := &Pipeline{
		container: c,
		logger:    slog.Default(),
		responder: &Responder{},
		maxBody:   DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.responder.Logger = p.logger
	return p
}

// Responder returns the responder used for failed requests.
func (p *Pipeline) Responder() *Responder { return p.responder }

// Mount seals t and registers its routes on r. Every action target must
// already be provided to the container.
func (p *Pipeline) Mount(r chi.Router, t *router.Table) error {
	routes := t.Routes()
	for _, route := range routes {
		refs := append([]router.Ref{route.Handler}, route.Middlewares...)
		for _, ref := range refs {
			if typ := ref.Target(); typ != nil && !p.container.Provided(typ) {
				return fmt.Errorf("%s: %s: %w", route, ref, di.ErrNotProvided)
			}
		}
	}
	t.Seal()

	for _, route := range routes {
		r.Method(string(route.Method), route.Pattern(), p.Handler(route))
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		p.responder.Fail(router.NewResponse(w), req, httperror.NotFoundf("Cannot %s %s", req.Method, req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		p.responder.Fail(router.NewResponse(w), req, httperror.MethodNotAllowed("Method Not Allowed"))
	})
	return nil
}

// Router returns a chi router serving t.
func (p *Pipeline) Router(t *router.Table) (*chi.Mux, error) {
	mux := chi.NewRouter()
	if err := p.Mount(mux, t); err != nil {
		return nil, err
	}
	return mux, nil
}

// Handler returns the http.Handler for a single route.
func (p *Pipeline) Handler(route router.Route) http.Handler {
	pattern := route.Pattern()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := router.NewResponse(w)
		if p.metrics != nil {
			done := p.metrics.Begin(string(route.Method), pattern)
			defer func() { done(statusOf(res)) }()
		}

		if err := p.run(route, res, r); err != nil {
			p.responder.Fail(res, r, err)
			return
		}
		if !res.Written() {
			p.logger.WarnContext(r.Context(), "route finished without a response",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route.String(),
			)
		}
	})
}

func statusOf(res *router.Response) int {
	if s := res.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}

// run executes one request and converts a panic at any stage into an error.
func (p *Pipeline) run(route router.Route, res *router.Response, r *http.Request) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = recovered(v)
		}
	}()

	call, err := p.buildCall(route, res, r)
	if err != nil {
		return err
	}
	return p.chain(route, call)()
}

// chain composes the middleware right to left around the route handler so the
// first declared middleware runs first.
func (p *Pipeline) chain(route router.Route, call *router.Call) func() error {
	action := func() error {
		h, err := route.Handler.Bind(p.container, call.Params)
		if err != nil {
			return err
		}
		return h(call.WithNext(nil))
	}
	for i := len(route.Middlewares) - 1; i >= 0; i-- {
		mw, next := route.Middlewares[i], action
		action = func() error {
			h, err := mw.Bind(p.container, call.Params.Merge(di.Params{"next": next}))
			if err != nil {
				return err
			}
			return h(call.WithNext(next))
		}
	}
	return action
}

// buildCall assembles the named parameters: req, res and next, then path
// parameters, then body fields.
func (p *Pipeline) buildCall(route router.Route, res *router.Response, r *http.Request) (*router.Call, error) {
	call := router.NewCall(res, r)
	call.Params["next"] = func() error { return nil }

	for _, name := range route.Params() {
		v := chi.URLParam(r, name)
		call.PathParams[name] = v
		call.Params[name] = v
	}

	body, fields, err := p.readBody(r)
	if err != nil {
		return nil, err
	}
	call.Body = body
	for k, v := range fields {
		if _, collides := call.PathParams[k]; collides {
			p.logger.DebugContext(r.Context(), "body field overwrites path parameter",
				"param", k,
				"route", route.String(),
			)
		}
		call.Fields[k] = v
		call.Params[k] = v
	}
	return call, nil
}

// readBody reads the request body and decodes JSON objects and url-encoded
// forms into fields. The body is restored on r for handlers that read it again.
func (p *Pipeline) readBody(r *http.Request) ([]byte, map[string]any, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, p.maxBody+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, nil, httperror.Wrap(http.StatusBadRequest, "failed to read request body", err)
	}
	if int64(len(body)) > p.maxBody {
		return nil, nil, httperror.New(http.StatusRequestEntityTooLarge, "request body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if len(bytes.TrimSpace(body)) == 0 {
		return body, nil, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json", "":
		fields, err := decodeJSONObject(body)
		if err != nil && mediaType == "" {
			// untyped bodies are only decoded when they happen to be JSON
			return body, nil, nil
		}
		return body, fields, err
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, nil, httperror.Wrap(http.StatusBadRequest, "malformed form body", err)
		}
		fields := make(map[string]any, len(values))
		for k, vs := range values {
			if len(vs) == 1 {
				fields[k] = vs[0]
			} else {
				fields[k] = vs
			}
		}
		return body, fields, nil
	default:
		return body, nil, nil
	}
}

// decodeJSONObject decodes body with UseNumber. A well-formed body that is not
// an object yields no fields.
func decodeJSONObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, httperror.Wrap(http.StatusBadRequest, "malformed JSON body", err)
	}
	if dec.More() {
		return nil, httperror.BadRequest("malformed JSON body: trailing data")
	}
	obj, _ := v.(map[string]any)
	return obj, nil
}
