package app

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/turtacn/ertviz/internal/application/export"
	"github.com/turtacn/ertviz/internal/config"
	"github.com/turtacn/ertviz/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ertviz/internal/infrastructure/storage/minio"
	httpserver "github.com/turtacn/ertviz/internal/interfaces/http"
	"github.com/turtacn/ertviz/internal/interfaces/http/handlers"
	"github.com/turtacn/ertviz/pkg/errors"
)

// Worker consumes figure events and archives every figure to object
// storage.
type Worker struct {
	Config    *config.Config
	Logger    logging.Logger
	Collector prometheus.MetricsCollector
	Metrics   *prometheus.AppMetrics
	Archiver  *export.Archiver

	consumer *kafka.Consumer
	minio    *minio.MinIOClient

	closeOnce sync.Once
	closeErr  error
}

// NewWorker needs both kafka and minio enabled.
func NewWorker(ctx context.Context, cfg *config.Config, logger logging.Logger) (_ *Worker, err error) {
	if !cfg.Kafka.Enabled || !cfg.MinIO.Enabled {
		return nil, errors.New(errors.CodeValidation, "worker needs kafka.enabled and minio.enabled")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	w := &Worker{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = w.Close()
		}
	}()

	w.Collector, err = prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Metrics.Namespace,
		Subsystem:            "worker",
		EnableProcessMetrics: cfg.Metrics.EnableProcessMetrics,
		EnableGoMetrics:      cfg.Metrics.EnableGoMetrics,
	}, logger)
	if err != nil {
		return nil, err
	}
	w.Metrics = prometheus.NewAppMetrics(w.Collector)

	c, store, err := NewSnapshotStore(ctx, &cfg.MinIO, logger)
	if err != nil {
		return nil, err
	}
	w.minio = c
	w.Archiver = NewArchiver(store, cfg.Render, w.Metrics, logger)

	k := cfg.Kafka
	if k.AutoCreateTopics {
		if err = EnsureTopics(ctx, k, logger); err != nil {
			return nil, err
		}
	}
	w.consumer, err = kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:         k.Brokers,
		GroupID:         k.GroupID,
		Topics:          []string{k.Topic},
		AutoOffsetReset: k.AutoOffsetReset,
		Security:        k.Security,
		Retry: kafka.RetryConfig{
			MaxRetries:      k.MaxRetries,
			DeadLetterTopic: k.DeadLetterTopic,
		},
	}, logger.Named("kafka"))
	if err != nil {
		return nil, err
	}
	w.consumer.Subscribe(k.Topic, w.handle)
	return w, nil
}

func (w *Worker) handle(ctx context.Context, msg *kafka.Message) error {
	err := w.Archiver.HandleMessage(ctx, msg)
	w.Metrics.RecordEvent(kafkaEventType(msg), "archive")
	return err
}

func kafkaEventType(msg *kafka.Message) string {
	if env, err := kafka.MessageToEventEnvelope(msg); err == nil {
		return env.EventType
	}
	return "undecodable"
}

// Handler serves the worker's probes and metrics.
func (w *Worker) Handler() http.Handler {
	rc := httpserver.RouterConfig{
		HealthHandler: handlers.NewHealthHandler(config.Version,
			handlers.NewChecker("minio", w.minio.HealthCheck)),
		Logger: w.Logger.Named("http"),
	}
	if w.Config.Metrics.Enabled {
		rc.MetricsHandler = w.Collector.Handler()
		rc.MetricsPath = w.Config.Metrics.Path
	}
	return httpserver.NewRouter(rc)
}

// Run consumes until ctx is done while serving probes on l.
func (w *Worker) Run(ctx context.Context, l net.Listener) error {
	srv := httpserver.NewServer(w.Config.Server, w.Handler(), w.Logger.Named("http"))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()

	if err := w.consumer.Start(ctx); err != nil {
		_ = srv.Stop(context.Background())
		return err
	}
	w.Logger.Info("worker consuming",
		logging.String("topic", w.Config.Kafka.Topic),
		logging.String("group", w.Config.Kafka.GroupID))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if err := srv.Stop(context.Background()); err != nil {
		return err
	}
	return <-errCh
}

// Close stops the consumer and releases storage.  It is idempotent.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		if w.consumer != nil {
			w.closeErr = w.consumer.Close()
			st := w.consumer.Stats()
			w.Logger.Info("worker stopped",
				logging.Int64("processed", st.Processed),
				logging.Int64("failed", st.Failed),
				logging.Int64("dead_lettered", st.DeadLettered))
		}
		if w.minio != nil {
			_ = w.minio.Close()
		}
	})
	return w.closeErr
}
