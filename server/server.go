// Package server assembles the HTTP application: global middleware, static
// folders, the dispatch pipeline and the process lifecycle.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/minifast/minifast/db"
	"github.com/minifast/minifast/di"
	"github.com/minifast/minifast/dispatch"
	"github.com/minifast/minifast/internal/config"
	"github.com/minifast/minifast/logging"
	"github.com/minifast/minifast/metrics"
	"github.com/minifast/minifast/router"
	"github.com/minifast/minifast/view"
)

// Names under which the ambient services are registered in the container.
const (
	ServiceConfig = "config"
	ServiceLogger = "logger"
	ServiceDB     = "db"
	ServiceViews  = "views"
)

// HealthPath answers liveness probes.
const HealthPath = "/healthz"

// Option configures an App.
type Option func(*App)

// WithOpener opens database pools with open instead of the MySQL driver.
func WithOpener(open db.Opener) Option {
	return func(a *App) { a.openers = append(a.openers, db.WithOpener(open)) }
}

// App owns every long-lived component of a running server.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Container *di.Container
	DB        *db.Manager
	Views     *view.Renderer
	Routes    *router.Table
	Metrics   *metrics.Collector

	openers     []db.ManagerOption
	middlewares []func(http.Handler) http.Handler
	static      []config.StaticMount
}

// New builds an App from cfg. Database pools are opened lazily.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:       cfg,
		logger:    logger,
		Container: di.NewContainer(),
		Routes:    router.New(),
		static:    append([]config.StaticMount(nil), cfg.App.Static...),
	}
	for _, opt := range opts {
		opt(a)
	}

	managerOpts := []db.ManagerOption{db.WithLogger(logger)}
	if cfg.App.Metrics {
		a.Metrics = metrics.New()
		managerOpts = append(managerOpts, db.WithRegisterer(a.Metrics.Registry()))
	}
	a.DB = db.NewManager(append(managerOpts, a.openers...)...)
	for _, nd := range cfg.Databases {
		if err := a.DB.Add(nd.Name, nd.Descriptor); err != nil {
			return nil, err
		}
	}

	a.Views = view.New(view.WithLogger(logger))
	for _, dir := range cfg.App.Views {
		if _, err := a.Views.AddPath(dir); err != nil {
			return nil, err
		}
	}

	a.Container.Set(ServiceConfig, cfg)
	a.Container.Set(ServiceLogger, logger)
	a.Container.Set(ServiceDB, a.DB)
	a.Container.Set(ServiceViews, a.Views)
	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Use appends a global middleware. Global middleware run before routing, in
// the order they were added.
func (a *App) Use(mw func(http.Handler) http.Handler) {
	if mw == nil {
		panic("server: middleware cannot be nil")
	}
	a.middlewares = append(a.middlewares, mw)
}

// Static serves the files in dir under route.
func (a *App) Static(route, dir string) {
	a.static = append(a.static, config.StaticMount{Route: route, Dir: dir})
}

// Handler builds the root handler. It seals the route table.
func (a *App) Handler() (http.Handler, error) {
	mux := chi.NewRouter()

	mux.Use(logging.Middleware(a.logger, a.cfg.App.LogIgnore...))
	if len(a.cfg.App.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.cfg.App.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", logging.RequestIDHeader},
			ExposedHeaders:   []string{logging.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	for _, mw := range a.middlewares {
		mux.Use(mw)
	}

	mux.Get(HealthPath, a.health)
	if a.Metrics != nil {
		mux.Handle(a.cfg.App.MetricsPath, a.Metrics.Handler())
	}
	for _, m := range a.static {
		route := strings.TrimSuffix(m.Route, "/")
		a.logger.Info("static mounted", "route", m.Route, "dir", m.Dir)
		files := http.FileServer(http.Dir(m.Dir))
		if route == "" {
			mux.Handle("/*", files)
			continue
		}
		mux.Handle(route+"/*", http.StripPrefix(route, files))
	}

	opts := []dispatch.Option{
		dispatch.WithLogger(a.logger),
		dispatch.WithDevelopment(a.cfg.Development()),
	}
	if a.Metrics != nil {
		opts = append(opts, dispatch.WithMetrics(a.Metrics))
	}
	if err := dispatch.New(a.Container, opts...).Mount(mux, a.Routes); err != nil {
		return nil, err
	}
	return mux, nil
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	status, body := http.StatusOK, router.Envelope{Success: true}
	if err := a.DB.Ping(r.Context()); err != nil {
		a.logger.WarnContext(r.Context(), "health check failed", "error", err)
		status, body = http.StatusServiceUnavailable, router.Envelope{Message: err.Error()}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Run listens on the configured port until ctx is done, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. In-flight requests get
// the configured shutdown timeout to finish, then the App is closed.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	handler, err := a.Handler()
	if err != nil {
		_ = ln.Close()
		return err
	}
	if a.cfg.Development() {
		if err := a.Views.Watch(ctx); err != nil {
			a.logger.Warn("view reloading disabled", "error", err)
		}
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("minifast running", "addr", ln.Addr().String(), "env", a.cfg.App.Env)
		serveErr <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		closeErr := a.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return closeErr
		}
		return errors.Join(fmt.Errorf("serve: %w", err), closeErr)
	}

	a.logger.Info("shutting down", "timeout", a.cfg.App.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.App.ShutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		shutdownErr = fmt.Errorf("shutdown: %w", shutdownErr)
	}
	return errors.Join(shutdownErr, a.Close())
}

// Close tears down the container's singletons, the view watcher and the
// database pools, in that order.
func (a *App) Close() error {
	return errors.Join(
		a.Container.Close(),
		a.Views.Close(),
		a.DB.Close(),
	)
}
