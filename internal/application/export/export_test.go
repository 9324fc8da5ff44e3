package export

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ertviz/internal/controller"
	"github.com/turtacn/ertviz/internal/domain/ensemble"
	"github.com/turtacn/ertviz/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/ertviz/internal/infrastructure/storage/minio"
	"github.com/turtacn/ertviz/internal/plot"
	"github.com/turtacn/ertviz/internal/testutil"
	apperrors "github.com/turtacn/ertviz/pkg/errors"
)

type fakePublisher struct {
	mu      sync.Mutex
	msgs    []*kafka.ProducerMessage
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (p *fakePublisher) Publish(_ context.Context, msg *kafka.ProducerMessage) error {
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePublisher) published() []*kafka.ProducerMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*kafka.ProducerMessage(nil), p.msgs...)
}

type fakeStore struct {
	mu    sync.Mutex
	saved []minio.Snapshot
	err   error
}

func (s *fakeStore) Save(_ context.Context, snap minio.Snapshot) (*minio.SnapshotRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.saved = append(s.saved, snap)
	ref := &minio.SnapshotRef{Bucket: "figs", FigureKey: minio.ObjectBase(snap) + ".json", CreatedAt: snap.CreatedAt}
	if len(snap.PNG) > 0 {
		ref.PNGKey = minio.ObjectBase(snap) + ".png"
	}
	return ref, nil
}

type recorder struct {
	mu        sync.Mutex
	events    []string
	renders   []error
	snapshots []error
}

func (r *recorder) RecordEvent(eventType, sink string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType+"/"+sink)
}

func (r *recorder) RecordRender(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders = append(r.renders, err)
}

func (r *recorder) RecordSnapshot(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, err)
}

func (r *recorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testModel() *plot.EnsemblePlotModel {
	axis := ensemble.ParseAxis([]string{"0", "1", "2"})
	obsAxis := ensemble.ParseAxis([]string{"1"})
	series := func(name string, y ...float64) plot.PlotModel {
		return plot.PlotModel{
			X: axis, Y: y, Text: name, Name: name, Mode: plot.ModeLinesMarkers,
			Line:   &plot.Line{Color: plot.ColorRealization},
			Marker: &plot.Marker{Color: plot.ColorRealization, Size: 1},
		}
	}
	m := plot.NewEnsemblePlotModel(
		[]plot.PlotModel{series("0", 1, 2, 3), series("1", 2, 3, 4)},
		[]plot.PlotModel{{X: obsAxis, Y: []float64{2.5}, Name: plot.NameObservations, Mode: plot.ModeMarkers,
			Marker: &plot.Marker{Color: plot.ColorObservation, Size: 10}}},
		plot.DefaultLayout(),
	)
	m.EnsembleID = "1"
	m.Response = "FOPR"
	return m
}

func figureEvent(rebuilt bool) controller.FigureChanged {
	m := testModel()
	if !rebuilt {
		m.SetSelection([]string{"1"})
	}
	return controller.FigureChanged{
		SessionID:  "sess-1",
		EnsembleID: "1",
		Response:   "FOPR",
		Figure:     m.Repr(),
		Selection:  m.Selection(),
		Rebuilt:    rebuilt,
	}
}

func TestKafkaSink_PublishesFigureEvents(t *testing.T) {
	pub := &fakePublisher{}
	rec := &recorder{}
	sink := NewKafkaSink(pub, WithSource("ertviz-test"), WithSinkRecorder(rec))
	bus := controller.NewBus()
	unsubscribe := sink.Attach(bus)
	defer unsubscribe()

	bus.Publish(controller.OptionsChanged{SessionID: "sess-1"})
	bus.Publish(figureEvent(true))
	bus.Publish(figureEvent(false))
	require.NoError(t, sink.Close(context.Background()))

	msgs := pub.published()
	require.Len(t, msgs, 2)
	assert.Equal(t, kafka.TopicFigureEvents, msgs[0].Topic)
	assert.Equal(t, "sess-1", string(msgs[0].Key))
	assert.Equal(t, kafka.EventFigureRebuilt, msgs[0].Headers["event_type"])
	assert.Equal(t, kafka.EventFigureSelected, msgs[1].Headers["event_type"])

	env, err := kafka.MessageToEventEnvelope(&kafka.Message{Value: msgs[1].Value})
	require.NoError(t, err)
	assert.Equal(t, "ertviz-test", env.Source)
	assert.Equal(t, "sess-1", env.Key)

	var payload kafka.FigureEventPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.False(t, payload.Rebuilt)
	assert.Equal(t, []string{"1"}, payload.Selection)
	var fig plot.Figure
	require.NoError(t, json.Unmarshal(payload.Figure, &fig))
	assert.Len(t, fig.Data, 3)

	assert.Equal(t, []string{"figure.rebuilt/kafka", "figure.selection_changed/kafka"}, rec.events)
}

func TestKafkaSink_DropsWhenQueueFull(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	log := testutil.NewMockLogger()
	sink := NewKafkaSink(pub, WithQueueSize(1), WithSinkLogger(log))

	sink.Handle(figureEvent(true))
	<-pub.entered
	sink.Handle(figureEvent(true))
	sink.Handle(figureEvent(true))

	assert.Equal(t, int64(1), sink.Dropped())
	assert.True(t, log.HasMessage("warn", "figure event dropped, queue full"))

	close(pub.block)
	require.NoError(t, sink.Close(context.Background()))
	assert.Len(t, pub.published(), 2)
}

func TestKafkaSink_PublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	rec := &recorder{}
	log := testutil.NewMockLogger()
	sink := NewKafkaSink(pub, WithSinkLogger(log), WithSinkRecorder(rec))

	sink.Handle(figureEvent(true))
	require.NoError(t, sink.Close(context.Background()))

	assert.Equal(t, int64(1), sink.Failed())
	assert.Zero(t, rec.eventCount())
	assert.True(t, log.HasMessage("error", "failed to publish figure event"))
}

func TestKafkaSink_CloseIsIdempotent(t *testing.T) {
	sink := NewKafkaSink(&fakePublisher{})
	require.NoError(t, sink.Close(context.Background()))
	require.NoError(t, sink.Close(context.Background()))
	assert.NotPanics(t, func() { sink.Handle(figureEvent(true)) })
}

func TestKafkaSink_CloseHonorsContext(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	sink := NewKafkaSink(pub)
	sink.Handle(figureEvent(true))
	<-pub.entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sink.Close(ctx), context.DeadlineExceeded)
	close(pub.block)
}

func TestArchiver_Archive(t *testing.T) {
	store := &fakeStore{}
	rec := &recorder{}
	a := NewArchiver(store, WithPNG(plot.RenderOptions{Width: 200, Height: 120}), WithArchiverRecorder(rec))
	a.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	ref, err := a.Archive(context.Background(), SnapshotRequest{
		SessionID: "sess-1", EnsembleID: "1", Response: "FOPR", Model: testModel(),
	})
	require.NoError(t, err)
	require.Len(t, store.saved, 1)

	snap := store.saved[0]
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, a.now(), snap.CreatedAt)
	assert.NotEmpty(t, snap.PNG)
	assert.NotEmpty(t, ref.PNGKey)

	var fig plot.Figure
	require.NoError(t, json.Unmarshal(snap.FigureJSON, &fig))
	assert.Len(t, fig.Data, 3)
	assert.Equal(t, []error{nil}, rec.renders)
	assert.Equal(t, []error{nil}, rec.snapshots)
}

func TestArchiver_RenderFailureStoresFigureOnly(t *testing.T) {
	store := &fakeStore{}
	log := testutil.NewMockLogger()
	a := NewArchiver(store, WithPNG(plot.DefaultRenderOptions()), WithArchiverLogger(log))

	empty := plot.NewEnsemblePlotModel(nil, nil, plot.DefaultLayout())
	ref, err := a.Archive(context.Background(), SnapshotRequest{ID: "x", Model: empty})
	require.NoError(t, err)
	assert.Empty(t, ref.PNGKey)
	assert.Empty(t, store.saved[0].PNG)
	assert.True(t, log.HasMessage("warn", "png render failed, storing figure only"))
}

func TestArchiver_Errors(t *testing.T) {
	a := NewArchiver(&fakeStore{})
	_, err := a.Archive(context.Background(), SnapshotRequest{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParam))

	failing := apperrors.New(apperrors.CodeSnapshotFailed, "upload failed")
	rec := &recorder{}
	a = NewArchiver(&fakeStore{err: failing}, WithArchiverRecorder(rec))
	_, err = a.Archive(context.Background(), SnapshotRequest{Model: testModel()})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSnapshotFailed))
	assert.Equal(t, []error{failing}, rec.snapshots)
}

func TestArchiver_HandleMessage(t *testing.T) {
	msg, err := figureMessage(figureEvent(false), "ertviz-test", kafka.TopicFigureEvents)
	require.NoError(t, err)

	store := &fakeStore{}
	a := NewArchiver(store, WithPNG(plot.RenderOptions{Width: 160, Height: 100}))
	require.NoError(t, a.HandleMessage(context.Background(), &kafka.Message{Topic: msg.Topic, Value: msg.Value}))

	env, err := kafka.MessageToEventEnvelope(&kafka.Message{Value: msg.Value})
	require.NoError(t, err)

	require.Len(t, store.saved, 1)
	snap := store.saved[0]
	assert.Equal(t, env.EventID, snap.ID)
	assert.Equal(t, "sess-1", snap.SessionID)
	assert.Equal(t, "FOPR", snap.Response)
	assert.True(t, env.Timestamp.Equal(snap.CreatedAt))
	assert.NotEmpty(t, snap.PNG)

	var fig plot.Figure
	require.NoError(t, json.Unmarshal(snap.FigureJSON, &fig))
	assert.Equal(t, plot.OpacityDeselected, fig.Data[0].Opacity)
	assert.Equal(t, plot.OpacitySelected, fig.Data[1].Opacity)
}

func TestArchiver_HandleMessage_SkipsAndRejects(t *testing.T) {
	store := &fakeStore{}
	a := NewArchiver(store)

	env, err := kafka.NewEventEnvelope("session.created", "ertviz", map[string]string{"id": "s"})
	require.NoError(t, err)
	other, err := env.ToMessage(kafka.TopicFigureEvents)
	require.NoError(t, err)
	assert.NoError(t, a.HandleMessage(context.Background(), &kafka.Message{Value: other.Value}))
	assert.Empty(t, store.saved)

	err = a.HandleMessage(context.Background(), &kafka.Message{Value: []byte("not json")})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSerialization))

	bad, err := kafka.NewEventEnvelope(kafka.EventFigureRebuilt, "ertviz", kafka.FigureEventPayload{Figure: json.RawMessage(`"x"`)})
	require.NoError(t, err)
	badMsg, err := bad.ToMessage(kafka.TopicFigureEvents)
	require.NoError(t, err)
	err = a.HandleMessage(context.Background(), &kafka.Message{Value: badMsg.Value})
	assert.True(t, apperrors.IsCode(err, apperrors.CodePayloadMalformed))
}
