// Package router declares routes and the handler references they dispatch to.
//
// Routes are registered on a Table at startup:
//
//	t := router.New()
//	t.Get("/", router.Action[*controllers.Home]("Index"))
//	t.WithMiddleware([]router.Ref{router.Func(middleware.RequireJSON)}, func(t *router.Table) {
//	    t.Post("/biaya", router.Action[*controllers.Biaya]("Insert"))
//	    t.Patch("/biaya/:idBiaya", router.Action[*controllers.Biaya]("Update"))
//	})
//
// The dispatch package turns a sealed Table into an http.Handler.
package router

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Method is an HTTP method accepted by the Table.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

var allowedMethods = map[Method]bool{
	MethodGet: true, MethodPost: true, MethodPut: true, MethodPatch: true, MethodDelete: true,
}

// ParseMethod normalizes s and checks that it is supported.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	if m == "" {
		return "", errors.New("method cannot be empty")
	}
	if !allowedMethods[m] {
		return "", errors.New("unsupported method: " + s)
	}
	return m, nil
}

// Route is one registered endpoint.
type Route struct {
	Method      Method
	Path        string // e.g. "/biaya/:idBiaya"
	Handler     Ref
	Middlewares []Ref // outermost first
}

var segmentParam = regexp.MustCompile(`^:([A-Za-z_][A-Za-z0-9_]*)$`)

// Params returns the names of the path parameters in declaration order.
func (r Route) Params() []string {
	var names []string
	for _, seg := range strings.Split(r.Path, "/") {
		if m := segmentParam.FindStringSubmatch(seg); m != nil {
			names = append(names, m[1])
		}
	}
	return names
}

// Pattern returns the chi pattern for the route, "/biaya/{idBiaya}".
func (r Route) Pattern() string {
	segs := strings.Split(r.Path, "/")
	for i, seg := range segs {
		if m := segmentParam.FindStringSubmatch(seg); m != nil {
			segs[i] = "{" + m[1] + "}"
		}
	}
	return strings.Join(segs, "/")
}

func (r Route) String() string {
	return string(r.Method) + " " + r.Path
}

// normalizePath validates p and removes a trailing slash (except for root).
func normalizePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errors.New("path cannot be empty")
	}
	if !strings.HasPrefix(p, "/") {
		return "", errors.New("path must start with /")
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	if p == "/" {
		return p, nil
	}
	seen := map[string]bool{}
	for _, seg := range strings.Split(p, "/")[1:] {
		if seg == "" {
			return "", errors.New("path contains an empty segment")
		}
		if !strings.HasPrefix(seg, ":") {
			continue
		}
		m := segmentParam.FindStringSubmatch(seg)
		if m == nil {
			return "", fmt.Errorf("invalid path parameter %q", seg)
		}
		if seen[m[1]] {
			return "", fmt.Errorf("path parameter %q declared twice", m[1])
		}
		seen[m[1]] = true
	}
	return p, nil
}

// registry is the route list shared by a Table and its middleware scopes.
type registry struct {
	routes []Route
	seen   map[string]bool
	sealed bool
}

// Table collects routes. Registration happens during startup and is not safe
// for concurrent use; Seal the table before serving it.
type Table struct {
	reg         *registry
	middlewares []Ref
}

// New returns an empty Table.
func New() *Table {
	return &Table{reg: &registry{seen: make(map[string]bool)}}
}

// Get registers a GET route.
func (t *Table) Get(path string, handler Ref, mws ...Ref) {
	t.Handle(MethodGet, path, handler, mws...)
}

// Post registers a POST route.
func (t *Table) Post(path string, handler Ref, mws ...Ref) {
	t.Handle(MethodPost, path, handler, mws...)
}

// Put registers a PUT route.
func (t *Table) Put(path string, handler Ref, mws ...Ref) {
	t.Handle(MethodPut, path, handler, mws...)
}

// Patch registers a PATCH route.
func (t *Table) Patch(path string, handler Ref, mws ...Ref) {
	t.Handle(MethodPatch, path, handler, mws...)
}

// Delete registers a DELETE route.
func (t *Table) Delete(path string, handler Ref, mws ...Ref) {
	t.Handle(MethodDelete, path, handler, mws...)
}

// Handle registers a route. Middleware from enclosing WithMiddleware scopes
// run before mws. It panics on an invalid method or path, a zero handler, a
// duplicate (method, path) pair, or a sealed table.
func (t *Table) Handle(method Method, path string, handler Ref, mws ...Ref) {
	if t.reg.sealed {
		panic(fmt.Sprintf("router: %s %s registered after Seal", method, path))
	}
	m, err := ParseMethod(string(method))
	if err != nil {
		panic("router: " + err.Error())
	}
	p, err := normalizePath(path)
	if err != nil {
		panic(fmt.Sprintf("router: %s %s: %v", m, path, err))
	}
	if handler.IsZero() {
		panic(fmt.Sprintf("router: %s %s: handler cannot be nil", m, p))
	}
	for _, mw := range mws {
		if mw.IsZero() {
			panic(fmt.Sprintf("router: %s %s: middleware cannot be nil", m, p))
		}
	}

	// (m, "/a/:id") and (m, "/a/:key") match the same requests.
	key := string(m) + " " + Route{Path: p}.shape()
	if t.reg.seen[key] {
		panic(fmt.Sprintf("router: duplicate route %s %s", m, p))
	}
	t.reg.seen[key] = true

	middlewares := make([]Ref, 0, len(t.middlewares)+len(mws))
	middlewares = append(middlewares, t.middlewares...)
	middlewares = append(middlewares, mws...)

	t.reg.routes = append(t.reg.routes, Route{
		Method:      m,
		Path:        p,
		Handler:     handler,
		Middlewares: middlewares,
	})
}

// shape replaces parameter names so routes differing only by them compare equal.
func (r Route) shape() string {
	segs := strings.Split(r.Path, "/")
	for i, seg := range segs {
		if strings.HasPrefix(seg, ":") {
			segs[i] = ":"
		}
	}
	return strings.Join(segs, "/")
}

// WithMiddleware applies mws to every route registered inside define.
// Nested scopes accumulate, outer middleware first.
func (t *Table) WithMiddleware(mws []Ref, define func(t *Table)) {
	if define == nil {
		panic("router: WithMiddleware requires a define function")
	}
	for _, mw := range mws {
		if mw.IsZero() {
			panic("router: middleware cannot be nil")
		}
	}
	// Clip so appends in sibling scopes never share a backing array.
	scope := &Table{
		reg:         t.reg,
		middlewares: append(slices.Clip(t.middlewares), mws...),
	}
	define(scope)
}

// Seal freezes the table. Later registrations panic.
func (t *Table) Seal() { t.reg.sealed = true }

// Sealed reports whether Seal has been called.
func (t *Table) Sealed() bool { return t.reg.sealed }

// Routes returns the registered routes in registration order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.reg.routes))
	for i, r := range t.reg.routes {
		r.Middlewares = slices.Clone(r.Middlewares)
		out[i] = r
	}
	return out
}

// Len returns the number of registered routes.
func (t *Table) Len() int { return len(t.reg.routes) }
