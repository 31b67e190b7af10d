package di

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
)

var (
	// ErrNotProvided is returned when resolving a type without a constructor.
	ErrNotProvided = errors.New("di: type not provided")
	// ErrClosed is returned by Resolve after Close.
	ErrClosed = errors.New("di: container closed")
)

type instance struct {
	ready chan struct{}
	val   reflect.Value
	err   error
}

// Container holds explicitly provided constructors, ambient services and the
// singletons built from them. A Container is safe for concurrent use.
type Container struct {
	mu        sync.Mutex
	ctors     map[reflect.Type]*ctor
	services  Params
	instances map[reflect.Type]*instance
	built     []reflect.Value
	closed    bool
}

// NewContainer returns an empty Container.
func NewContainer() *Container {
	return &Container{
		ctors:     make(map[reflect.Type]*ctor),
		services:  make(Params),
		instances: make(map[reflect.Type]*instance),
	}
}

// Provide registers constructors keyed by the type they return.
func (c *Container) Provide(ctors ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fn := range ctors {
		ct, err := inspect(fn)
		if err != nil {
			return err
		}
		if _, dup := c.ctors[ct.out]; dup {
			return fmt.Errorf("%w: %s is already provided", ErrBadConstructor, ct.out)
		}
		c.ctors[ct.out] = ct
	}
	return nil
}

// MustProvide is like Provide but panics on error.
func (c *Container) MustProvide(ctors ...any) {
	if err := c.Provide(ctors...); err != nil {
		panic(err)
	}
}

// Provided reports whether t has a constructor.
func (c *Container) Provided(t reflect.Type) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ctors[t]
	return ok
}

// Set registers an ambient service under name. Services take precedence over
// request parameters of the same name.
func (c *Container) Set(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = value
}

// Service returns the ambient service registered under name.
func (c *Container) Service(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.services[name]
	return v, ok
}

// Resolve returns the singleton of type t, constructing it with params on
// first use. Later calls return the cached instance and ignore params.
func (c *Container) Resolve(t reflect.Type, params Params) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if inst, ok := c.instances[t]; ok {
		c.mu.Unlock()
		<-inst.ready
		if inst.err != nil {
			return nil, inst.err
		}
		return inst.val.Interface(), nil
	}
	ct, ok := c.ctors[t]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotProvided, t)
	}
	inst := &instance{ready: make(chan struct{})}
	c.instances[t] = inst
	merged := params.Merge(c.services)
	c.mu.Unlock()

	val, err := c.construct(ct, merged)

	c.mu.Lock()
	if err != nil {
		inst.err = err
		delete(c.instances, t)
	} else {
		inst.val = val
		c.built = append(c.built, val)
	}
	c.mu.Unlock()
	close(inst.ready)

	if err != nil {
		return nil, err
	}
	return val.Interface(), nil
}

func (c *Container) construct(ct *ctor, params Params) (val reflect.Value, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("di: constructing %s panicked: %v", ct.out, p)
		}
	}()
	val, err = ct.call(params)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("di: constructing %s: %w", ct.out, err)
	}
	return val, nil
}

// Resolve returns the singleton of type T.
func Resolve[T any](c *Container, params Params) (T, error) {
	var zero T
	v, err := c.Resolve(reflect.TypeFor[T](), params)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: constructor returned %T, want %T", ErrTypeMismatch, v, zero)
	}
	return t, nil
}

// Close closes constructed instances that implement io.Closer, most recently
// built first, then refuses further resolution.
func (c *Container) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	built := c.built
	c.built = nil
	c.mu.Unlock()

	var errs []error
	for i := len(built) - 1; i >= 0; i-- {
		v := built[i]
		if !v.IsValid() || !v.CanInterface() {
			continue
		}
		if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
			continue
		}
		if closer, ok := v.Interface().(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
