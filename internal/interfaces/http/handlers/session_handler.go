package handlers

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/ertviz/internal/application/export"
	"github.com/turtacn/ertviz/internal/controller"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ertviz/internal/infrastructure/storage/minio"
	"github.com/turtacn/ertviz/internal/plot"
	"github.com/turtacn/ertviz/pkg/errors"
)

// SessionController is the part of *controller.Controller the session
// endpoints drive.
type SessionController interface {
	NewSession(ctx context.Context) (*controller.Session, error)
	Session(ctx context.Context, id string) (*controller.Session, error)
	HandleURL(ctx context.Context, sessionID, query string) (controller.Result, error)
	HandleSelector(ctx context.Context, sessionID string, v controller.SelectorValue) (controller.Result, error)
	HandleSelection(ctx context.Context, sessionID string, names []string) (controller.Result, error)
	Figure(ctx context.Context, sessionID string) (*plot.Figure, error)
	Model(ctx context.Context, sessionID string) (*plot.EnsemblePlotModel, error)
}

// Snapshotter archives a figure.  *export.Archiver satisfies it.
type Snapshotter interface {
	Archive(ctx context.Context, req export.SnapshotRequest) (*minio.SnapshotRef, error)
}

// Streamer serves the event websocket of a session.  *stream.Hub
// satisfies it.
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, session string) error
}

// SessionHandler serves /api/v1/sessions.
type SessionHandler struct {
	ctrl        SessionController
	snapshots   Snapshotter
	stream      Streamer
	render      plot.RenderOptions
	maxBodySize int64
	logger      logging.Logger
}

type SessionHandlerOption func(*SessionHandler)

// WithSnapshotter enables POST /sessions/{id}/snapshot.
func WithSnapshotter(s Snapshotter) SessionHandlerOption {
	return func(h *SessionHandler) { h.snapshots = s }
}

// WithStreamer enables GET /sessions/{id}/ws.
func WithStreamer(s Streamer) SessionHandlerOption {
	return func(h *SessionHandler) { h.stream = s }
}

func WithRenderOptions(o plot.RenderOptions) SessionHandlerOption {
	return func(h *SessionHandler) { h.render = o }
}

func WithMaxBodySize(n int64) SessionHandlerOption {
	return func(h *SessionHandler) {
		if n > 0 {
			h.maxBodySize = n
		}
	}
}

func NewSessionHandler(ctrl SessionController, logger logging.Logger, opts ...SessionHandlerOption) *SessionHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	h := &SessionHandler{
		ctrl:        ctrl,
		render:      plot.DefaultRenderOptions(),
		maxBodySize: DefaultMaxBodySize,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateSessionResponse is the body of POST /sessions.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// QueryRequest carries the URL search string of the viewer page.
type QueryRequest struct {
	Query string `json:"query"`
}

// SelectionRequest carries the selected realization names.
type SelectionRequest struct {
	Realizations []string `json:"realizations"`
}

func (h *SessionHandler) log(r *http.Request) logging.Logger {
	return logging.FromContext(r.Context(), h.logger).With(
		logging.String(logging.FieldSessionID, chi.URLParam(r, "sessionID")))
}

// Create handles POST /sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	s, err := h.ctrl.NewSession(r.Context())
	if err != nil {
		writeAppError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateSessionResponse{SessionID: s.ID()})
}

// Query handles POST /sessions/{sessionID}/query.
func (h *SessionHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		writeAppError(w, h.log(r), err)
		return
	}
	res, err := h.ctrl.HandleURL(r.Context(), chi.URLParam(r, "sessionID"), req.Query)
	h.writeResult(w, r, res, err)
}

// SetResponse handles PUT /sessions/{sessionID}/response.
func (h *SessionHandler) SetResponse(w http.ResponseWriter, r *http.Request) {
	var v controller.SelectorValue
	if err := decodeJSON(w, r, h.maxBodySize, &v); err != nil {
		writeAppError(w, h.log(r), err)
		return
	}
	res, err := h.ctrl.HandleSelector(r.Context(), chi.URLParam(r, "sessionID"), v)
	h.writeResult(w, r, res, err)
}

// SetSelection handles PUT /sessions/{sessionID}/selection.
func (h *SessionHandler) SetSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		writeAppError(w, h.log(r), err)
		return
	}
	res, err := h.ctrl.HandleSelection(r.Context(), chi.URLParam(r, "sessionID"), req.Realizations)
	h.writeResult(w, r, res, err)
}

func (h *SessionHandler) writeResult(w http.ResponseWriter, r *http.Request, res controller.Result, err error) {
	if err != nil {
		writeAppError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Figure handles GET /sessions/{sessionID}/figure.
func (h *SessionHandler) Figure(w http.ResponseWriter, r *http.Request) {
	fig, err := h.ctrl.Figure(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeAppError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, fig)
}

// FigurePNG handles GET /sessions/{sessionID}/figure.png.  width and height
// query parameters override the configured size.
func (h *SessionHandler) FigurePNG(w http.ResponseWriter, r *http.Request) {
	opts, err := h.renderOptions(r)
	if err != nil {
		writeAppError(w, h.log(r), err)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	m, err := h.ctrl.Model(r.Context(), sessionID)
	if err != nil {
		writeAppError(w, h.log(r), err)
		return
	}
	if s, err := h.ctrl.Session(r.Context(), sessionID); err == nil && opts.Title == "" {
		opts.Title = s.Value().Response
	}

	var buf bytes.Buffer
	if err := plot.RenderPNG(&buf, m, opts); err != nil {
		writeAppError(w, h.log(r), err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

func (h *SessionHandler) renderOptions(r *http.Request) (plot.RenderOptions, error) {
	opts := h.render
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"width", &opts.Width}, {"height", &opts.Height}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 16 || n > 8192 {
			return opts, errors.New(errors.CodeInvalidParam, "invalid image size").WithDetail(p.name + "=" + raw)
		}
		*p.dst = n
	}
	return opts, nil
}

// Snapshot handles POST /sessions/{sessionID}/snapshot.
func (h *SessionHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		writeAppError(w, h.log(r), errors.New(errors.ErrCodeFeatureDisabled, "snapshot storage is not configured"))
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	m, err := h.ctrl.Model(r.Context(), sessionID)
	if err != nil {
		writeAppError(w, h.log(r), err)
		return
	}

	// The object key names what the model plots, which can differ from the
	// selector value after a failed rebuild.
	ref, err := h.snapshots.Archive(r.Context(), export.SnapshotRequest{
		SessionID:  sessionID,
		EnsembleID: m.EnsembleID,
		Response:   m.Response,
		Model:      m,
	})
	if err != nil {
		writeAppError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

// Stream handles GET /sessions/{sessionID}/ws.
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeAppError(w, h.log(r), errors.New(errors.ErrCodeFeatureDisabled, "event stream is not configured"))
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.ctrl.Session(r.Context(), sessionID); err != nil {
		writeAppError(w, h.log(r), err)
		return
	}
	if err := h.stream.Serve(w, r, sessionID); err != nil {
		writeAppError(w, h.log(r), err)
	}
}
