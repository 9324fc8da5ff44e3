package export

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turtacn/ertviz/internal/controller"
	"github.com/turtacn/ertviz/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
)

const (
	SinkKafka          = "kafka"
	defaultQueueSize   = 256
	defaultSendTimeout = 10 * time.Second
)

// KafkaSink publishes FigureChanged events as enveloped Kafka messages
// keyed by session id.  Events are queued and sent from a single goroutine;
// when the queue is full the event is dropped.
type KafkaSink struct {
	publisher Publisher
	topic     string
	source    string
	timeout   time.Duration
	logger    logging.Logger
	recorder  Recorder

	mu     sync.RWMutex
	closed bool
	queue  chan *kafka.ProducerMessage
	done   chan struct{}

	dropped atomic.Int64
	failed  atomic.Int64
}

type SinkOption func(*KafkaSink)

func WithTopic(topic string) SinkOption {
	return func(s *KafkaSink) {
		if topic != "" {
			s.topic = topic
		}
	}
}

// WithSource sets the envelope source, normally the binary name.
func WithSource(source string) SinkOption {
	return func(s *KafkaSink) { s.source = source }
}

func WithQueueSize(n int) SinkOption {
	return func(s *KafkaSink) {
		if n > 0 {
			s.queue = make(chan *kafka.ProducerMessage, n)
		}
	}
}

func WithSinkLogger(l logging.Logger) SinkOption {
	return func(s *KafkaSink) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithSinkRecorder(r Recorder) SinkOption {
	return func(s *KafkaSink) {
		if r != nil {
			s.recorder = r
		}
	}
}

// NewKafkaSink starts the send loop.  Call Close to drain it.
func NewKafkaSink(p Publisher, opts ...SinkOption) *KafkaSink {
	s := &KafkaSink{
		publisher: p,
		topic:     kafka.TopicFigureEvents,
		source:    "ertviz",
		timeout:   defaultSendTimeout,
		logger:    logging.NewNopLogger(),
		recorder:  nopRecorder{},
		queue:     make(chan *kafka.ProducerMessage, defaultQueueSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Attach subscribes the sink to bus and returns the unsubscribe func.
func (s *KafkaSink) Attach(bus *controller.Bus) func() {
	return bus.Subscribe(s.Handle)
}

// Handle enqueues ev when it is a FigureChanged.  It never blocks.
func (s *KafkaSink) Handle(ev controller.Event) {
	fc, ok := ev.(controller.FigureChanged)
	if !ok {
		return
	}
	msg, err := figureMessage(fc, s.source, s.topic)
	if err != nil {
		s.logger.Error("failed to encode figure event",
			logging.String(logging.FieldSessionID, fc.SessionID), logging.Err(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- msg:
	default:
		s.dropped.Add(1)
		s.logger.Warn("figure event dropped, queue full",
			logging.String(logging.FieldSessionID, fc.SessionID),
			logging.Int("queue_size", cap(s.queue)))
	}
}

func figureMessage(ev controller.FigureChanged, source, topic string) (*kafka.ProducerMessage, error) {
	figure, err := json.Marshal(ev.Figure)
	if err != nil {
		return nil, err
	}
	eventType := kafka.EventFigureSelected
	if ev.Rebuilt {
		eventType = kafka.EventFigureRebuilt
	}
	env, err := kafka.NewEventEnvelope(eventType, source, kafka.FigureEventPayload{
		SessionID:  ev.SessionID,
		EnsembleID: ev.EnsembleID,
		Response:   ev.Response,
		Rebuilt:    ev.Rebuilt,
		Selection:  ev.Selection,
		Figure:     figure,
	})
	if err != nil {
		return nil, err
	}
	env.Key = ev.SessionID
	return env.ToMessage(topic)
}

func (s *KafkaSink) run() {
	defer close(s.done)
	for msg := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.publisher.Publish(ctx, msg)
		cancel()
		if err != nil {
			s.failed.Add(1)
			s.logger.Error("failed to publish figure event",
				logging.String("topic", msg.Topic),
				logging.String(logging.FieldSessionID, string(msg.Key)),
				logging.Err(err))
			continue
		}
		s.recorder.RecordEvent(msg.Headers["event_type"], SinkKafka)
	}
}

// Dropped returns the number of events dropped on a full queue.
func (s *KafkaSink) Dropped() int64 { return s.dropped.Load() }

// Failed returns the number of events the publisher rejected.
func (s *KafkaSink) Failed() int64 { return s.failed.Load() }

// Close stops accepting events and waits until the queue is drained or ctx
// ends.
func (s *KafkaSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
