// Package stream pushes controller events to browser websockets.  Each
// connection is bound to one viewer session and only receives that
// session's events.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/turtacn/ertviz/internal/controller"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ertviz/pkg/errors"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Recorder receives connection and delivery counts.  *prometheus.AppMetrics
// satisfies it.
type Recorder interface {
	WebsocketConnected()
	WebsocketDisconnected()
	RecordEvent(eventType, sink string)
}

type nopRecorder struct{}

func (nopRecorder) WebsocketConnected()        {}
func (nopRecorder) WebsocketDisconnected()     {}
func (nopRecorder) RecordEvent(string, string) {}

// Message is the frame written to the browser.
type Message struct {
	Type controller.EventType `json:"type"`
	Data controller.Event     `json:"data"`
}

type client struct {
	session string
	conn    *websocket.Conn
	send    chan []byte
}

// Hub fans bus events out to websocket clients.
type Hub struct {
	upgrader   websocket.Upgrader
	logger     logging.Logger
	recorder   Recorder
	maxClients int
	bufferSize int

	mu       sync.RWMutex
	sessions map[string]map[*client]struct{}
	count    int
	closed   bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

type Option func(*Hub)

func WithLogger(l logging.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(h *Hub) {
		if r != nil {
			h.recorder = r
		}
	}
}

// WithMaxClients caps concurrent connections across all sessions.
func WithMaxClients(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxClients = n
		}
	}
}

// WithBufferSize sets how many frames may queue per connection before
// further frames are dropped.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithCheckOrigin replaces the same-origin check of the upgrader.
func WithCheckOrigin(f func(*http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = f }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:     logging.NewNopLogger(),
		recorder:   nopRecorder{},
		maxClients: 256,
		bufferSize: 16,
		sessions:   make(map[string]map[*client]struct{}),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Attach subscribes the hub to bus and returns the unsubscribe func.
func (h *Hub) Attach(bus *controller.Bus) func() {
	return bus.Subscribe(h.Handle)
}

// Handle queues ev for every client of its session.  It never blocks: a
// client whose queue is full misses the frame.
func (h *Hub) Handle(ev controller.Event) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.sessions[ev.Session()]))
	for c := range h.sessions[ev.Session()] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(Message{Type: ev.Type(), Data: ev})
	if err != nil {
		h.logger.Error("failed to encode event", logging.String("type", string(ev.Type())), logging.Err(err))
		return
	}
	for _, c := range clients {
		select {
		case c.send <- data:
			h.recorder.RecordEvent(string(ev.Type()), "websocket")
		default:
			h.logger.Warn("websocket frame dropped, client too slow",
				logging.String(logging.FieldSessionID, c.session),
				logging.String("type", string(ev.Type())))
		}
	}
}

// Clients returns the number of connections of session.
func (h *Hub) Clients(session string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[session])
}

// Serve upgrades the request and streams the events of session until the
// client goes away or the hub is closed.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, session string) error {
	h.mu.RLock()
	full := h.count >= h.maxClients
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return errors.New(errors.ErrCodeServiceUnavailable, "event stream is shutting down")
	}
	if full {
		return errors.New(errors.ErrCodeServiceUnavailable, "maximum websocket clients reached")
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", logging.Err(err))
		return nil
	}

	c := &client{session: session, conn: conn, send: make(chan []byte, h.bufferSize)}
	if !h.register(c) {
		_ = conn.Close()
		return nil
	}
	defer h.wg.Done()
	defer h.unregister(c)

	readDone := make(chan struct{})
	go h.readPump(c, readDone)
	h.writePump(c, readDone)
	return nil
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.sessions[c.session]
	if !ok {
		set = make(map[*client]struct{})
		h.sessions[c.session] = set
	}
	set[c] = struct{}{}
	h.count++
	h.wg.Add(1)
	h.recorder.WebsocketConnected()
	h.logger.Debug("websocket client connected", logging.String(logging.FieldSessionID, c.session))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sessions[c.session]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.sessions, c.session)
	}
	h.count--
	_ = c.conn.Close()
	h.recorder.WebsocketDisconnected()
	h.logger.Debug("websocket client disconnected", logging.String(logging.FieldSessionID, c.session))
}

// readPump discards client frames; reading is needed to see pongs and
// disconnects.
func (h *Hub) readPump(c *client, done chan<- struct{}) {
	defer close(done)
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", logging.Err(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client, readDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		case <-h.stop:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// Close disconnects every client and waits for their pumps to exit.  New
// connections are refused afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.stop)
	h.mu.Unlock()
	h.wg.Wait()
}
