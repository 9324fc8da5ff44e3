package export

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/ertviz/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ertviz/internal/infrastructure/storage/minio"
	"github.com/turtacn/ertviz/internal/plot"
	"github.com/turtacn/ertviz/pkg/errors"
)

// SnapshotRequest names one figure to archive.
type SnapshotRequest struct {
	// ID defaults to a new uuid.
	ID         string
	SessionID  string
	EnsembleID string
	Response   string
	CreatedAt  time.Time
	Model      *plot.EnsemblePlotModel
}

// Archiver writes figure JSON, and optionally a PNG rendering, to object
// storage.
type Archiver struct {
	store     SnapshotWriter
	renderPNG bool
	render    plot.RenderOptions
	logger    logging.Logger
	recorder  Recorder
	now       func() time.Time
}

type ArchiverOption func(*Archiver)

// WithPNG enables PNG rendering with opts.
func WithPNG(opts plot.RenderOptions) ArchiverOption {
	return func(a *Archiver) {
		a.renderPNG = true
		a.render = opts
	}
}

func WithArchiverLogger(l logging.Logger) ArchiverOption {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithArchiverRecorder(r Recorder) ArchiverOption {
	return func(a *Archiver) {
		if r != nil {
			a.recorder = r
		}
	}
}

func NewArchiver(store SnapshotWriter, opts ...ArchiverOption) *Archiver {
	a := &Archiver{
		store:    store,
		logger:   logging.NewNopLogger(),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Archive stores the current figure of req.Model.  A PNG render failure is
// logged and the figure JSON is stored without it.
func (a *Archiver) Archive(ctx context.Context, req SnapshotRequest) (*minio.SnapshotRef, error) {
	if req.Model == nil {
		return nil, errors.New(errors.CodeInvalidParam, "no figure to archive")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = a.now()
	}

	figure, err := json.Marshal(req.Model.Repr())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode figure")
	}

	snap := minio.Snapshot{
		ID:         req.ID,
		SessionID:  req.SessionID,
		EnsembleID: req.EnsembleID,
		Response:   req.Response,
		CreatedAt:  req.CreatedAt,
		FigureJSON: figure,
	}
	if a.renderPNG {
		var buf bytes.Buffer
		opts := a.render
		if opts.Title == "" {
			opts.Title = req.Response
		}
		err := plot.RenderPNG(&buf, req.Model, opts)
		a.recorder.RecordRender(err)
		if err != nil {
			a.logger.Warn("png render failed, storing figure only",
				logging.String("response", req.Response), logging.Err(err))
		} else {
			snap.PNG = buf.Bytes()
		}
	}

	ref, err := a.store.Save(ctx, snap)
	a.recorder.RecordSnapshot(err)
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// HandleMessage archives a figure event consumed from Kafka.  Other event
// types are skipped.
func (a *Archiver) HandleMessage(ctx context.Context, msg *kafka.Message) error {
	env, err := kafka.MessageToEventEnvelope(msg)
	if err != nil {
		return err
	}
	if env.EventType != kafka.EventFigureRebuilt && env.EventType != kafka.EventFigureSelected {
		a.logger.Debug("skipping event", logging.String("event_type", env.EventType))
		return nil
	}

	var payload kafka.FigureEventPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}
	fig, err := plot.DecodeFigure(payload.Figure)
	if err != nil {
		return err
	}
	model, err := plot.ModelFromFigure(fig)
	if err != nil {
		return err
	}
	model.EnsembleID = payload.EnsembleID
	model.Response = payload.Response

	ref, err := a.Archive(ctx, SnapshotRequest{
		ID:         env.EventID,
		SessionID:  payload.SessionID,
		EnsembleID: payload.EnsembleID,
		Response:   payload.Response,
		CreatedAt:  env.Timestamp,
		Model:      model,
	})
	if err != nil {
		return err
	}
	a.logger.Debug("figure event archived",
		logging.String("event_id", env.EventID),
		logging.String("key", ref.FigureKey))
	return nil
}
