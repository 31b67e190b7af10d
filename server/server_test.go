package server

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minifast/minifast/db"
	"github.com/minifast/minifast/di"
	"github.com/minifast/minifast/internal/config"
	"github.com/minifast/minifast/router"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ConfigDir: t.TempDir(),
		App: config.AppConfig{
			Env:             config.EnvTest,
			Port:            3000,
			Metrics:         true,
			MetricsPath:     "/metrics",
			LogIgnore:       []string{HealthPath},
			CORSOrigins:     []string{"http://localhost:5173"},
			ShutdownTimeout: time.Second,
		},
		Databases: []config.NamedDatabase{{
			Name:       "default",
			Descriptor: db.Descriptor{Host: "localhost", Username: "root", Database: "keuangan"}.WithDefaults(),
		}},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, sqlmock.Sqlmock) {
	t.Helper()
	pool, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	a, err := New(cfg, nil, WithOpener(func(string, db.Descriptor) (*sql.DB, error) { return pool, nil }))
	require.NoError(t, err)
	return a, mock
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type greeter struct{ cfg *config.Config }

type greeterDeps struct {
	Config *config.Config `inject:"config,required"`
}

func (g *greeter) Hello(c *router.Call) error { return c.Success("hello " + g.cfg.App.Env) }

func TestNewRegistersServices(t *testing.T) {
	cfg := testConfig(t)
	a, _ := newTestApp(t, cfg)

	for _, name := range []string{ServiceConfig, ServiceLogger, ServiceDB, ServiceViews} {
		_, ok := a.Container.Service(name)
		assert.True(t, ok, name)
	}
	assert.Equal(t, []string{"default"}, a.DB.Names())
	assert.NotNil(t, a.Metrics)
}

func TestNewRejectsInvalidDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Databases[0].Descriptor.Host = ""
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, db.ErrInvalidDescriptor)
}

func TestHandler(t *testing.T) {
	cfg := testConfig(t)
	a, mock := newTestApp(t, cfg)

	static := filepath.Join(cfg.ConfigDir, "public")
	require.NoError(t, os.MkdirAll(static, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(static, "app.css"), []byte("body{}"), 0o644))
	a.Static("/assets", static)

	a.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Powered-By", "minifast")
			next.ServeHTTP(w, r)
		})
	})

	a.Container.MustProvide(func(d greeterDeps) *greeter { return &greeter{cfg: d.Config} })
	a.Routes.Get("/hello", router.Action[*greeter]("Hello"))

	h, err := a.Handler()
	require.NoError(t, err)

	t.Run("route", func(t *testing.T) {
		rec := do(t, h, httptest.NewRequest(http.MethodGet, "/hello", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true,"data":"hello test"}`, rec.Body.String())
		assert.Equal(t, "minifast", rec.Header().Get("X-Powered-By"))
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("static", func(t *testing.T) {
		rec := do(t, h, httptest.NewRequest(http.MethodGet, "/assets/app.css", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "body{}", rec.Body.String())
	})

	t.Run("not found", func(t *testing.T) {
		rec := do(t, h, httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"success":false,"message":"Cannot GET /nope"}`, rec.Body.String())
	})

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/hello", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", "GET")
		rec := do(t, h, req)
		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("health", func(t *testing.T) {
		rec := do(t, h, httptest.NewRequest(http.MethodGet, HealthPath, nil))
		assert.Equal(t, http.StatusOK, rec.Code, "no pool opened yet")

		_, err := a.DB.Get("default")
		require.NoError(t, err)
		mock.ExpectPing().WillReturnError(errors.New("gone away"))
		rec = do(t, h, httptest.NewRequest(http.MethodGet, HealthPath, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "gone away")
	})

	t.Run("metrics", func(t *testing.T) {
		rec := do(t, h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, `minifast_http_requests_total{method="GET",route="/hello",status="200"} 1`)
		assert.Contains(t, body, `go_sql_max_open_connections{db_name="default"}`)
	})

	assert.True(t, a.Routes.Sealed())
}

func TestHandlerFailsForUnprovidedAction(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	a.Routes.Get("/hello", router.Action[*greeter]("Hello"))
	_, err := a.Handler()
	assert.ErrorIs(t, err, di.ErrNotProvided)
}

type closeTracker struct{ closed bool }

func (c *closeTracker) Close() error { c.closed = true; return nil }

func TestServeShutsDownAndCloses(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	a.Container.MustProvide(func() *closeTracker { return &closeTracker{} })
	tracker, err := di.Resolve[*closeTracker](a.Container, nil)
	require.NoError(t, err)
	a.Routes.Get("/ping", router.Func(func(c *router.Call) error { return c.Done(true) }))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/ping"
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(url)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"success":true}`, string(body))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	assert.True(t, tracker.closed)
	_, err = a.DB.Get("default")
	assert.ErrorIs(t, err, db.ErrClosed)
	_, err = di.Resolve[*closeTracker](a.Container, nil)
	assert.ErrorIs(t, err, di.ErrClosed)
}
