package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minifast/minifast/di"
	"github.com/minifast/minifast/httperror"
	"github.com/minifast/minifast/metrics"
	"github.com/minifast/minifast/router"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func serve(t *testing.T, p *Pipeline, tbl *router.Table, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	mux, err := p.Router(tbl)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestMiddlewareRunsInDeclarationOrder(t *testing.T) {
	var mu sync.Mutex
	var trace []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		trace = append(trace, s)
	}
	mw := func(name string) router.Ref {
		return router.Func(func(c *router.Call) error {
			record(name + ":before")
			err := c.Next()
			record(name + ":after")
			return err
		})
	}

	tbl := router.New()
	tbl.WithMiddleware([]router.Ref{mw("outer")}, func(t *router.Table) {
		t.WithMiddleware([]router.Ref{mw("inner")}, func(t *router.Table) {
			t.Get("/x", router.Func(func(c *router.Call) error {
				record("handler")
				return c.Done(true)
			}), mw("route"))
		})
	})

	rec := serve(t, New(di.NewContainer()), tbl, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{
		"outer:before", "inner:before", "route:before",
		"handler",
		"route:after", "inner:after", "outer:after",
	}, trace)
}

func TestMiddlewareWithoutNextStopsChain(t *testing.T) {
	handlerRan := false
	handler := router.Func(func(c *router.Call) error {
		handlerRan = true
		return c.Done(true)
	})

	t.Run("middleware responds", func(t *testing.T) {
		tbl := router.New()
		tbl.Get("/x", handler, router.Func(func(c *router.Call) error {
			return c.JSON(http.StatusForbidden, router.Envelope{Message: "no"})
		}))
		rec := serve(t, New(di.NewContainer()), tbl, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.False(t, handlerRan)
	})

	t.Run("nothing responds", func(t *testing.T) {
		logger, logs := newLogger()
		tbl := router.New()
		tbl.Get("/x", handler, router.Func(func(c *router.Call) error { return nil }))
		rec := serve(t, New(di.NewContainer(), WithLogger(logger)), tbl, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.False(t, handlerRan)
		assert.Empty(t, rec.Body.String())
		assert.Contains(t, logs.String(), "route finished without a response")
	})
}

func TestHandlerErrorIsAnsweredOnce(t *testing.T) {
	tbl := router.New()
	tbl.Get("/missing", router.Func(func(c *router.Call) error {
		return httperror.NotFound("Not found")
	}))
	tbl.Get("/plain", router.Func(func(c *router.Call) error {
		return errors.New("database is down")
	}))

	t.Run("production", func(t *testing.T) {
		rec := serve(t, New(di.NewContainer()), tbl, httptest.NewRequest(http.MethodGet, "/missing", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"success":false,"message":"Not found"}`, rec.Body.String())
	})

	t.Run("development", func(t *testing.T) {
		rec := serve(t, New(di.NewContainer(), WithDevelopment(true)), tbl, httptest.NewRequest(http.MethodGet, "/missing", nil))
		body := decodeError(t, rec)
		assert.False(t, body.Success)
		assert.Equal(t, "Not found", body.Message)
		assert.NotEmpty(t, body.Stack)
	})

	t.Run("untyped errors are 500", func(t *testing.T) {
		rec := serve(t, New(di.NewContainer()), tbl, httptest.NewRequest(http.MethodGet, "/plain", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "database is down", body.Message)
		assert.Empty(t, body.Stack)
	})
}

func TestPanicsAreRecovered(t *testing.T) {
	tbl := router.New()
	tbl.Get("/panic", router.Func(func(c *router.Call) error { panic("boom") }))
	tbl.Get("/teapot", router.Func(func(c *router.Call) error {
		panic(httperror.New(http.StatusTeapot, "short and stout"))
	}))

	rec := serve(t, New(di.NewContainer(), WithDevelopment(true)), tbl, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "panic: boom", body.Message)
	assert.Contains(t, body.Stack, "goroutine")

	rec = serve(t, New(di.NewContainer()), tbl, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestErrorAfterResponseIsOnlyLogged(t *testing.T) {
	logger, logs := newLogger()
	tbl := router.New()
	tbl.Get("/x", router.Func(func(c *router.Call) error {
		if err := c.Done(true); err != nil {
			return err
		}
		return errors.New("late failure")
	}))

	rec := serve(t, New(di.NewContainer(), WithLogger(logger)), tbl, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Contains(t, logs.String(), "error after response was sent")
	assert.Contains(t, logs.String(), "late failure")
}

func echoParams(c *router.Call) error {
	return c.Success(map[string]any{
		"idBiaya": c.Param("idBiaya"),
		"nama":    c.Param("nama"),
		"path":    c.PathParams["idBiaya"],
	})
}

func TestBuildingContext(t *testing.T) {
	tbl := router.New()
	tbl.Patch("/biaya/:idBiaya", router.Func(echoParams))

	t.Run("path params", func(t *testing.T) {
		rec := serve(t, New(di.NewContainer()), tbl, httptest.NewRequest(http.MethodPatch, "/biaya/12", nil))
		assert.JSONEq(t, `{"success":true,"data":{"idBiaya":"12","nama":"","path":"12"}}`, rec.Body.String())
	})

	t.Run("body overwrites path param", func(t *testing.T) {
		logger, logs := newLogger()
		req := httptest.NewRequest(http.MethodPatch, "/biaya/12", strings.NewReader(`{"idBiaya": 99, "nama": "sewa"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(t, New(di.NewContainer(), WithLogger(logger)), tbl, req)
		assert.JSONEq(t, `{"success":true,"data":{"idBiaya":"99","nama":"sewa","path":"12"}}`, rec.Body.String())
		assert.Contains(t, logs.String(), "body field overwrites path parameter")
	})

	t.Run("form body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/biaya/3", strings.NewReader("nama=listrik"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := serve(t, New(di.NewContainer()), tbl, req)
		assert.JSONEq(t, `{"success":true,"data":{"idBiaya":"3","nama":"listrik","path":"3"}}`, rec.Body.String())
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/biaya/3", strings.NewReader(`{"nama":`))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(t, New(di.NewContainer()), tbl, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "malformed JSON body", decodeError(t, rec).Message)
	})

	t.Run("json array yields no fields", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/biaya/3", strings.NewReader(`[1,2]`))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(t, New(di.NewContainer()), tbl, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("body too large", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/biaya/3", strings.NewReader(`{"nama":"`+strings.Repeat("x", 64)+`"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(t, New(di.NewContainer(), WithMaxBodyBytes(16)), tbl, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

type biayaDeps struct {
	Logger *slog.Logger `inject:"logger,required"`
	ID     string       `inject:"idBiaya"`
}

type biayaController struct {
	deps  biayaDeps
	calls int
}

func newBiayaController(d biayaDeps) *biayaController { return &biayaController{deps: d} }

func (b *biayaController) Row(c *router.Call) error {
	b.calls++
	return c.Success(map[string]any{"constructedWith": b.deps.ID, "calls": b.calls})
}

func TestActionsResolveSingletons(t *testing.T) {
	c := di.NewContainer()
	c.MustProvide(newBiayaController)
	c.Set("logger", slog.Default())

	tbl := router.New()
	tbl.Get("/biaya/:idBiaya", router.Action[*biayaController]("Row"))
	mux, err := New(c).Router(tbl)
	require.NoError(t, err)

	for i, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/biaya/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		want := map[string]any{"success": true, "data": map[string]any{"constructedWith": "1", "calls": float64(i + 1)}}
		var got map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, want, got)
	}
	assert.True(t, tbl.Sealed())
}

func TestResolutionFailureGoesToResponder(t *testing.T) {
	c := di.NewContainer()
	c.MustProvide(newBiayaController)

	tbl := router.New()
	tbl.Get("/biaya/:idBiaya", router.Action[*biayaController]("Row"))
	rec := serve(t, New(c), tbl, httptest.NewRequest(http.MethodGet, "/biaya/1", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeError(t, rec).Message, "required parameter missing")
}

func TestMountRequiresProvidedActions(t *testing.T) {
	tbl := router.New()
	tbl.Get("/biaya/:idBiaya", router.Action[*biayaController]("Row"))

	_, err := New(di.NewContainer()).Router(tbl)
	assert.ErrorIs(t, err, di.ErrNotProvided)
	assert.False(t, tbl.Sealed())
}

func TestUnknownRouteAndMethod(t *testing.T) {
	tbl := router.New()
	tbl.Get("/biaya", router.Func(func(c *router.Call) error { return c.Success([]any{}) }))

	rec := serve(t, New(di.NewContainer()), tbl, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Cannot GET /nope"}`, rec.Body.String())

	tbl = router.New()
	tbl.Get("/biaya", router.Func(func(c *router.Call) error { return c.Success([]any{}) }))
	rec = serve(t, New(di.NewContainer()), tbl, httptest.NewRequest(http.MethodDelete, "/biaya", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, decodeError(t, rec).Success)
}

func TestMetricsPerRoute(t *testing.T) {
	m := metrics.New()
	tbl := router.New()
	tbl.Get("/biaya/:idBiaya", router.Func(func(c *router.Call) error { return httperror.NotFound("gone") }))
	serve(t, New(di.NewContainer(), WithMetrics(m)), tbl, httptest.NewRequest(http.MethodGet, "/biaya/4", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `minifast_http_requests_total{method="GET",route="/biaya/{idBiaya}",status="404"} 1`)
}

func TestConcurrentRequestsReachOwnHandler(t *testing.T) {
	tbl := router.New()
	tbl.Get("/a/:id", router.Func(func(c *router.Call) error { return c.Success("a" + c.Param("id")) }))
	tbl.Post("/b/:id", router.Func(func(c *router.Call) error { return c.Success("b" + c.Param("id") + c.Param("v")) }))
	mux, err := New(di.NewContainer()).Router(tbl)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := strings.Repeat("x", i%5+1)
			var req *http.Request
			want := ""
			if i%2 == 0 {
				req = httptest.NewRequest(http.MethodGet, "/a/"+id, nil)
				want = "a" + id
			} else {
				req = httptest.NewRequest(http.MethodPost, "/b/"+id, strings.NewReader(`{"v":"!"}`))
				req.Header.Set("Content-Type", "application/json")
				want = "b" + id + "!"
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			var env router.Envelope
			if assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env)) {
				assert.Equal(t, want, env.Data)
			}
		}(i)
	}
	wg.Wait()
}
