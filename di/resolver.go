// Package di constructs request-scoped singletons from explicitly declared
// dependencies.
//
// A constructor declares what it needs through a struct whose fields carry
// inject tags:
//
//	type BiayaDeps struct {
//	    DB     *db.Manager  `inject:"db,required"`
//	    Logger *slog.Logger `inject:"logger"`
//	    ID     string       `inject:"id"`
//	}
//
//	func NewBiaya(d BiayaDeps) *Biaya { ... }
//
// Names are looked up in a Params record. Missing names leave the field at its
// zero value unless the tag says required.
package di

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/minifast/minifast/dbstrings"
)

var (
	// ErrBadConstructor is returned for constructors whose signature or
	// dependency struct cannot be used.
	ErrBadConstructor = errors.New("di: invalid constructor")
	// ErrTypeMismatch is returned when a param cannot be assigned to its field.
	ErrTypeMismatch = errors.New("di: parameter type mismatch")
	// ErrMissing is returned when a required name has no value.
	ErrMissing = errors.New("di: required parameter missing")
)

// Params is a name to value record.
type Params map[string]any

// Merge returns a new Params with the entries of p overlaid by each of others.
func (p Params) Merge(others ...Params) Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	for _, o := range others {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

type field struct {
	name     string
	index    int
	typ      reflect.Type
	required bool
}

// ctor is a validated constructor.
type ctor struct {
	fn     reflect.Value
	out    reflect.Type
	hasErr bool
	in     reflect.Type // struct type of the dependency record, nil for no argument
	inPtr  bool
	fields []field
}

var (
	errorType = reflect.TypeFor[error]()
	ctorCache sync.Map // reflect.Type of the function -> *ctor
)

func inspect(fn any) (*ctor, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%w: expected a function, got %T", ErrBadConstructor, fn)
	}
	t := v.Type()

	if cached, ok := ctorCache.Load(t); ok {
		c := *cached.(*ctor)
		c.fn = v
		return &c, nil
	}

	c := &ctor{fn: v}
	switch t.NumOut() {
	case 1:
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("%w: second result of %s must be error", ErrBadConstructor, t)
		}
		c.hasErr = true
	default:
		return nil, fmt.Errorf("%w: %s must return T or (T, error)", ErrBadConstructor, t)
	}
	c.out = t.Out(0)

	switch t.NumIn() {
	case 0:
	case 1:
		in := t.In(0)
		if in.Kind() == reflect.Pointer && in.Elem().Kind() == reflect.Struct {
			c.inPtr = true
			in = in.Elem()
		}
		if in.Kind() != reflect.Struct {
			return nil, fmt.Errorf("%w: %s must take a dependency struct", ErrBadConstructor, t)
		}
		c.in = in
		fields, err := injectFields(in)
		if err != nil {
			return nil, err
		}
		c.fields = fields
	default:
		return nil, fmt.Errorf("%w: %s takes more than one argument", ErrBadConstructor, t)
	}

	ctorCache.Store(t, c)
	return c, nil
}

func injectFields(t reflect.Type) ([]field, error) {
	var fields []field
	seen := map[string]bool{}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, ok := sf.Tag.Lookup("inject")
		if !ok {
			continue
		}
		if !sf.IsExported() {
			return nil, fmt.Errorf("%w: %s.%s is tagged but unexported", ErrBadConstructor, t, sf.Name)
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = dbstrings.ToLowerCamel(sf.Name)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: %s declares %q twice", ErrBadConstructor, t, name)
		}
		seen[name] = true
		fields = append(fields, field{
			name:     name,
			index:    i,
			typ:      sf.Type,
			required: opts == "required",
		})
	}
	return fields, nil
}

// ParamNames returns the parameter names ctor declares, in field order.
func ParamNames(fn any) ([]string, error) {
	c, err := inspect(fn)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(c.fields))
	for i, f := range c.fields {
		names[i] = f.name
	}
	return names, nil
}

// Dependencies builds the argument list for ctor from params. Unresolved names
// are left at their zero value; required names and type mismatches are errors.
func Dependencies(fn any, params Params) ([]any, error) {
	c, err := inspect(fn)
	if err != nil {
		return nil, err
	}
	args, err := c.args(params)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Interface()
	}
	return out, nil
}

func (c *ctor) args(params Params) ([]reflect.Value, error) {
	if c.in == nil {
		return nil, nil
	}
	rec := reflect.New(c.in).Elem()
	for _, f := range c.fields {
		v, ok := params[f.name]
		if !ok || v == nil {
			if f.required {
				return nil, fmt.Errorf("%w: %q for %s", ErrMissing, f.name, c.out)
			}
			continue
		}
		rv, err := assign(reflect.ValueOf(v), f.typ)
		if err != nil {
			return nil, fmt.Errorf("%w: %q for %s: %v", ErrTypeMismatch, f.name, c.out, err)
		}
		rec.Field(f.index).Set(rv)
	}
	if c.inPtr {
		return []reflect.Value{rec.Addr()}, nil
	}
	return []reflect.Value{rec}, nil
}

// assign converts v to t when v is assignable, or when both are strings of
// different named types.
func assign(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if v.Kind() == reflect.String && t.Kind() == reflect.String {
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", v.Type(), t)
}

func (c *ctor) call(params Params) (reflect.Value, error) {
	args, err := c.args(params)
	if err != nil {
		return reflect.Value{}, err
	}
	out := c.fn.Call(args)
	if c.hasErr && !out[1].IsNil() {
		return reflect.Value{}, out[1].Interface().(error)
	}
	return out[0], nil
}
