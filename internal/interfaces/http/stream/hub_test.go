package stream

import (
	"encoding/json"
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
	"github.com/turtacn/ertviz/pkg/errors"
)

type countingRecorder struct {
	mu        sync.Mutex
	connected int
	events    map[string]int
}

func (r *countingRecorder) WebsocketConnected() {
	r.mu.Lock()
	r.connected++
	r.mu.Unlock()
}

func (r *countingRecorder) WebsocketDisconnected() {
	r.mu.Lock()
	r.connected--
	r.mu.Unlock()
}

func (r *countingRecorder) RecordEvent(eventType, sink string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string]int)
	}
	r.events[eventType+"/"+sink]++
}

func (r *countingRecorder) get() (int, map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.events))
	for k, v := range r.events {
		out[k] = v
	}
	return r.connected, out
}

func startHub(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.Serve(w, r, r.URL.Query().Get("session")); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, session string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session=" + session
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_DeliversSessionEvents(t *testing.T) {
	rec := &countingRecorder{}
	h := NewHub(WithRecorder(rec))
	srv := startHub(t, h)

	a := dial(t, srv, "s1")
	b := dial(t, srv, "s2")
	require.Eventually(t, func() bool { return h.Clients("s1") == 1 && h.Clients("s2") == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Handle(controller.ValueChanged{
		SessionID: "s1",
		Value:     controller.SelectorValue{Response: "FOPR", EnsembleID: "1"},
	})

	_ = a.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := a.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string `json:"type"`
		Data struct {
			SessionID string                   `json:"session_id"`
			Value     controller.SelectorValue `json:"value"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "value_changed", msg.Type)
	assert.Equal(t, "s1", msg.Data.SessionID)
	assert.Equal(t, "FOPR", msg.Data.Value.Response)

	_ = b.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = b.ReadMessage()
	assert.Error(t, err, "other sessions receive nothing")

	connected, events := rec.get()
	assert.Equal(t, 2, connected)
	assert.Equal(t, 1, events["value_changed/websocket"])
}

func TestHub_Attach(t *testing.T) {
	h := NewHub()
	srv := startHub(t, h)
	bus := controller.NewBus()
	unsubscribe := h.Attach(bus)
	defer unsubscribe()

	conn := dial(t, srv, "s1")
	require.Eventually(t, func() bool { return h.Clients("s1") == 1 }, 2*time.Second, 10*time.Millisecond)

	bus.Publish(controller.OptionsChanged{SessionID: "s1"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"options_changed"`)
}

func TestHub_MaxClients(t *testing.T) {
	h := NewHub(WithMaxClients(1))
	srv := startHub(t, h)

	dial(t, srv, "s1")
	require.Eventually(t, func() bool { return h.Clients("s1") == 1 }, 2*time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session=s2"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	rec := &countingRecorder{}
	h := NewHub(WithRecorder(rec))
	srv := startHub(t, h)

	conn := dial(t, srv, "s1")
	require.Eventually(t, func() bool { return h.Clients("s1") == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Close()
	h.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))

	assert.Equal(t, 0, h.Clients("s1"))
	connected, _ := rec.get()
	assert.Equal(t, 0, connected)

	err = h.Serve(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), "s1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeServiceUnavailable))
}

func TestHub_HandleWithoutClients(t *testing.T) {
	rec := &countingRecorder{}
	h := NewHub(WithRecorder(rec))
	assert.NotPanics(t, func() { h.Handle(controller.OptionsChanged{SessionID: "nobody"}) })
	_, events := rec.get()
	assert.Empty(t, events)
}
