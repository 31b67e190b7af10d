package router

import (
	"errors"
	"fmt"
	"go/token"
	"reflect"
	"runtime"
	"strings"

	"github.com/minifast/minifast/di"
)

// HandlerFunc handles one call. Middleware are HandlerFuncs that proceed by
// calling c.Next().
type HandlerFunc func(c *Call) error

// ErrBadAction is returned when an action's target cannot produce a handler.
var ErrBadAction = errors.New("router: invalid action")

var (
	callType  = reflect.TypeFor[*Call]()
	errorType = reflect.TypeFor[error]()
)

// Ref references a handler: either a bare function or a method on a
// container-managed singleton.
type Ref struct {
	name   string
	fn     HandlerFunc
	target reflect.Type
	method string
}

// Func references a bare handler function.
func Func(fn HandlerFunc) Ref {
	if fn == nil {
		panic("router: handler function cannot be nil")
	}
	return Ref{name: funcName(fn), fn: fn}
}

// Action references method on the singleton of type T. T must have an
// exported method of type func(*Call) error; Action panics otherwise.
func Action[T any](method string) Ref {
	ref, err := newAction(reflect.TypeFor[T](), method)
	if err != nil {
		panic(err)
	}
	return ref
}

func newAction(t reflect.Type, method string) (Ref, error) {
	if !token.IsExported(method) {
		return Ref{}, fmt.Errorf("%w: %s.%s is not exported", ErrBadAction, t, method)
	}
	m, ok := t.MethodByName(method)
	if !ok {
		return Ref{}, fmt.Errorf("%w: %s has no method %s", ErrBadAction, t, method)
	}
	// m.Type includes the receiver.
	mt := m.Type
	if mt.NumIn() != 2 || mt.In(1) != callType || mt.NumOut() != 1 || mt.Out(0) != errorType {
		return Ref{}, fmt.Errorf("%w: %s.%s must be func(*router.Call) error, got %s", ErrBadAction, t, method, mt)
	}
	return Ref{
		name:   t.String() + "." + method,
		target: t,
		method: method,
	}, nil
}

// funcName returns the symbol name of fn, e.g. "middleware.RequireJSON".
func funcName(fn any) string {
	full := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	return full
}

// IsZero reports whether r references nothing.
func (r Ref) IsZero() bool { return r.fn == nil && r.target == nil }

// Target returns the singleton type an action resolves, or nil for a Func.
func (r Ref) Target() reflect.Type { return r.target }

func (r Ref) String() string { return r.name }

// Bind returns the handler r references. Actions resolve their singleton from
// c using params on first use.
func (r Ref) Bind(c *di.Container, params di.Params) (HandlerFunc, error) {
	if r.fn != nil {
		return r.fn, nil
	}
	if r.target == nil {
		return nil, fmt.Errorf("%w: empty reference", ErrBadAction)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s needs a container", ErrBadAction, r.name)
	}
	v, err := c.Resolve(r.target, params)
	if err != nil {
		return nil, err
	}
	fn, ok := reflect.ValueOf(v).MethodByName(r.method).Interface().(func(*Call) error)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBadAction, r.name)
	}
	return fn, nil
}
