package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ertviz/internal/config"
	"github.com/turtacn/ertviz/internal/controller"
	"github.com/turtacn/ertviz/internal/interfaces/http/handlers"
	"github.com/turtacn/ertviz/internal/testutil"
	"github.com/turtacn/ertviz/pkg/errors"
)

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Backend.BaseURL = backendURL
	cfg.Session.SweepInterval = 0
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, testutil.NewMockLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return w
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	w := post(t, h, "/api/v1/sessions/", "")
	require.Equal(t, http.StatusCreated, w.Code)
	var resp handlers.CreateSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.SessionID
}

func TestNew_Defaults(t *testing.T) {
	b := testutil.NewBackend(t)
	a := newTestApp(t, testConfig(t, b.URL))

	assert.Nil(t, a.Sink)
	assert.Nil(t, a.Archiver)
	require.Len(t, a.Checkers(), 1)
	assert.Equal(t, "backend", a.Checkers()[0].Name())
}

func TestApp_HandlerEndToEnd(t *testing.T) {
	b := testutil.NewBackend(t)
	a := newTestApp(t, testConfig(t, b.URL))
	h := a.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	id := createSession(t, h)
	w = post(t, h, "/api/v1/sessions/"+id+"/query", `{"query":"?ensemble_id=1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/v1/sessions/"+id+"/selection",
		strings.NewReader(`{"realizations":["2"]}`)))
	require.Equal(t, http.StatusOK, w.Code)

	w = post(t, h, "/api/v1/sessions/"+id+"/snapshot", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	assert.Contains(t, out, `ertviz_backend_fetch_total{kind="schema",status="200"}`)
	assert.Contains(t, out, `ertviz_figure_builds_total{outcome="ok"} 1`)
	assert.Contains(t, out, "ertviz_selection_updates_total 1")
	assert.Contains(t, out, "ertviz_sessions_active 1")
	assert.Contains(t, out, `ertviz_events_total{sink="bus",type="figure_changed"} 2`)
}

func TestApp_MetricsDisabled(t *testing.T) {
	b := testutil.NewBackend(t)
	cfg := testConfig(t, b.URL)
	cfg.Metrics.Enabled = false
	h := newTestApp(t, cfg).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApp_RedisSessionsSurviveRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	b := testutil.NewBackend(t)
	cfg := testConfig(t, b.URL)
	cfg.Session.Store = config.SessionStoreRedis
	cfg.Redis.Addr = mr.Addr()

	first := newTestApp(t, cfg)
	id := createSession(t, first.Handler())
	w := post(t, first.Handler(), "/api/v1/sessions/"+id+"/query", `{"query":"?ensemble_id=1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, first.Checkers(), 2)

	assert.NotEmpty(t, mr.Keys())
	require.NoError(t, first.Close(context.Background()))

	second := newTestApp(t, cfg)
	w = httptest.NewRecorder()
	second.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id+"/figure", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var fig struct {
		Data []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fig))
	assert.Len(t, fig.Data, 3)
}

func TestNew_RedisUnreachable(t *testing.T) {
	b := testutil.NewBackend(t)
	cfg := testConfig(t, b.URL)
	cfg.Session.Store = config.SessionStoreRedis
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.DialTimeout = 200 * time.Millisecond

	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	b := testutil.NewBackend(t)
	cfg := testConfig(t, b.URL)
	cfg.Session.SweepInterval = 10 * time.Millisecond
	a := newTestApp(t, cfg)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `"alive"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestApp_SweepDropsIdleSessions(t *testing.T) {
	b := testutil.NewBackend(t)
	cfg := testConfig(t, b.URL)
	cfg.Session.SweepInterval = 5 * time.Millisecond
	cfg.Session.IdleTimeout = time.Nanosecond
	a := newTestApp(t, cfg)

	_, err := a.Controller.NewSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, a.Controller.ActiveSessions())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Sweep(ctx)

	assert.Eventually(t, func() bool { return a.Controller.ActiveSessions() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestApp_RecordEventCountsSelections(t *testing.T) {
	b := testutil.NewBackend(t)
	a := newTestApp(t, testConfig(t, b.URL))

	a.recordEvent(controller.FigureChanged{SessionID: "s", Rebuilt: false})
	a.recordEvent(controller.FigureChanged{SessionID: "s", Rebuilt: true})
	a.recordEvent(controller.ValueChanged{SessionID: "s"})

	w := httptest.NewRecorder()
	a.Collector.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "ertviz_selection_updates_total 1")
	assert.Contains(t, w.Body.String(), `ertviz_events_total{sink="bus",type="value_changed"} 1`)
}

func TestApp_CloseIdempotent(t *testing.T) {
	b := testutil.NewBackend(t)
	a := newTestApp(t, testConfig(t, b.URL))
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}

func TestNewWorker_RequiresKafkaAndMinio(t *testing.T) {
	cfg := config.NewDefaultConfig()
	_, err := NewWorker(context.Background(), cfg, nil)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestRenderOptions(t *testing.T) {
	opts := RenderOptions(config.RenderConfig{Width: 800, Height: 600, Legend: true})
	assert.Equal(t, 800, opts.Width)
	assert.Equal(t, 600, opts.Height)
	assert.True(t, opts.Legend)
}
