package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/minifast/minifast/db/query"
)

var (
	// ErrUnknownConnection matches errors for names that were never added.
	ErrUnknownConnection = errors.New("unknown database connection")
	// ErrClosed is returned by Get after Close.
	ErrClosed = errors.New("database manager closed")
)

// UnknownConnectionError reports a lookup of a name that was never added.
type UnknownConnectionError struct {
	Name string
}

func (e *UnknownConnectionError) Error() string {
	return fmt.Sprintf("database connection %q not found", e.Name)
}

func (e *UnknownConnectionError) Is(target error) bool { return target == ErrUnknownConnection }

// Opener opens the pool for a descriptor. Tests replace it with sqlmock.
type Opener func(name string, d Descriptor) (*sql.DB, error)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithOpener replaces OpenPool.
func WithOpener(open Opener) ManagerOption {
	return func(m *Manager) { m.open = open }
}

// WithLogger sets the logger used for pool lifecycle and statement logs.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithRegisterer exports pool statistics for every opened connection.
func WithRegisterer(reg prometheus.Registerer) ManagerOption {
	return func(m *Manager) { m.reg = reg }
}

// Manager maps connection names to lazily opened pools. Each name yields the
// same *query.DB for the lifetime of the Manager.
type Manager struct {
	mu          sync.Mutex
	order       []string
	descriptors map[string]Descriptor
	opened      map[string]*query.DB
	closed      bool

	open   Opener
	logger *slog.Logger
	reg    prometheus.Registerer
}

// NewManager creates an empty Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		descriptors: make(map[string]Descriptor),
		opened:      make(map[string]*query.DB),
		open:        func(_ string, d Descriptor) (*sql.DB, error) { return OpenPool(d) },
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add registers a descriptor under name. The first registration of a name
// wins; later ones are ignored.
func (m *Manager) Add(name string, d Descriptor) error {
	d = d.WithDefaults()
	if err := d.Validate(); err != nil {
		return fmt.Errorf("connection %q: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.descriptors[name]; ok {
		m.logger.Debug("database connection already registered", "connection", name)
		return nil
	}
	m.descriptors[name] = d
	m.order = append(m.order, name)
	return nil
}

// Names returns the registered names in registration order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.order)
}

// Descriptor returns the registered descriptor for name.
func (m *Manager) Descriptor(name string) (Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.descriptors[name]
	return d, ok
}

// Get returns the pool for name, opening it on first use.
func (m *Manager) Get(name string) (*query.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if db, ok := m.opened[name]; ok {
		return db, nil
	}
	d, ok := m.descriptors[name]
	if !ok {
		return nil, &UnknownConnectionError{Name: name}
	}

	pool, err := m.open(name, d)
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}
	if m.reg != nil {
		err := m.reg.Register(collectors.NewDBStatsCollector(pool, name))
		var are prometheus.AlreadyRegisteredError
		if err != nil && !errors.As(err, &are) {
			m.logger.Warn("failed to register pool metrics", "connection", name, "error", err)
		}
	}

	db := query.NewDB(pool, query.WithName(name), query.WithLogger(m.logger))
	m.opened[name] = db
	m.logger.Info("database connection opened", "connection", name, "target", d.String())
	return db, nil
}

// MustGet is like Get but panics on error.
func (m *Manager) MustGet(name string) *query.DB {
	db, err := m.Get(name)
	if err != nil {
		panic(err)
	}
	return db
}

// Ping checks every opened pool.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.Lock()
	dbs := make([]*query.DB, 0, len(m.opened))
	for _, name := range m.order {
		if db, ok := m.opened[name]; ok {
			dbs = append(dbs, db)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, db := range dbs {
		if err := db.Pool().PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("connection %q: %w", db.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes opened pools in reverse registration order. Later calls to
// Get fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		db, ok := m.opened[name]
		if !ok {
			continue
		}
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("connection %q: %w", name, err))
		}
		m.logger.Info("database connection closed", "connection", name)
	}
	clear(m.opened)
	return errors.Join(errs...)
}
