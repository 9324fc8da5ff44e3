package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ertviz/internal/controller"
	"github.com/turtacn/ertviz/internal/interfaces/http/handlers"
	"github.com/turtacn/ertviz/internal/interfaces/http/stream"
	"github.com/turtacn/ertviz/internal/plot"
	"github.com/turtacn/ertviz/internal/testutil"
	"github.com/turtacn/ertviz/pkg/client"
)

type httpRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (r *httpRecorder) RecordHTTP(_, route string, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *httpRecorder) has(route string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.routes {
		if x == route {
			return true
		}
	}
	return false
}

type apiFixture struct {
	server *httptest.Server
	hub    *stream.Hub
	rec    *httpRecorder
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	b := testutil.NewBackend(t)
	c, err := client.NewClient(b.URL)
	require.NoError(t, err)

	ctrl := controller.New(c, plot.NewBuilder())
	hub := stream.NewHub()
	t.Cleanup(hub.Attach(ctrl.Bus()))

	rec := &httpRecorder{}
	router := NewRouter(RouterConfig{
		ViewerHandler:  handlers.NewViewerHandler(c, nil),
		SessionHandler: handlers.NewSessionHandler(ctrl, nil, handlers.WithStreamer(hub)),
		HealthHandler:  handlers.NewHealthHandler("test"),
		Metrics:        rec,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		}),
		Logger: testutil.NewMockLogger(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &apiFixture{server: srv, hub: hub, rec: rec}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *apiFixture) newSession(t *testing.T) string {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/v1/sessions/", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body handlers.CreateSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.SessionID
}

func TestRouter_Probes(t *testing.T) {
	f := newAPI(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").StatusCode)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", "").StatusCode)

	resp := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "# metrics\n", string(body))
}

func TestRouter_Pages(t *testing.T) {
	f := newAPI(t)

	resp := f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "/ensemble-viewer/?ensemble_id=1")

	resp = f.do(t, http.MethodGet, "/ensemble-viewer/?ensemble_id=1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/ensembles", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
}

func TestRouter_SessionFlow(t *testing.T) {
	f := newAPI(t)
	id := f.newSession(t)
	base := "/api/v1/sessions/" + id

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodGet, base+"/figure", "").StatusCode)

	resp := f.do(t, http.MethodPost, base+"/query", `{"query":"?ensemble_id=1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res controller.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Len(t, res.Options, 2)
	require.NotNil(t, res.Figure)

	resp = f.do(t, http.MethodPut, base+"/selection", `{"realizations":["1"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPut, base+"/response", `{"response":"FOPR","ensemble_id":"1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, base+"/figure", "").StatusCode)

	resp = f.do(t, http.MethodGet, base+"/figure.png", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	assert.Equal(t, http.StatusNotImplemented, f.do(t, http.MethodPost, base+"/snapshot", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, base+"/query", "{").StatusCode)
}

func TestRouter_UnknownSession(t *testing.T) {
	f := newAPI(t)
	resp := f.do(t, http.MethodPost, "/api/v1/sessions/nope/query", `{"query":"?ensemble_id=1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body handlers.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "SESS_001", body.Code)
}

func TestRouter_MetricsUseRoutePattern(t *testing.T) {
	f := newAPI(t)
	id := f.newSession(t)
	f.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/figure", "")
	f.do(t, http.MethodGet, "/does-not-exist", "")

	assert.Eventually(t, func() bool {
		return f.rec.has("/api/v1/sessions/{sessionID}/figure") && f.rec.has("unmatched")
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, f.rec.has("/api/v1/sessions/"+id+"/figure"))
}

func TestRouter_WebsocketReceivesSessionEvents(t *testing.T) {
	f := newAPI(t)
	id := f.newSession(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/sessions/" + id + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Clients(id) == 1 }, 2*time.Second, 10*time.Millisecond)

	r := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/query", `{"query":"?ensemble_id=1"}`)
	require.Equal(t, http.StatusOK, r.StatusCode)

	var types []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for len(types) < 3 {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		types = append(types, msg.Type)
	}
	assert.Equal(t, []string{"options_changed", "value_changed", "figure_changed"}, types)
}

func TestRouter_WebsocketUnknownSession(t *testing.T) {
	f := newAPI(t)
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/sessions/nope/ws"
	_, resp, err := websocket.DefaultDialer.DialContext(context.Background(), wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
