// Package app wires the viewer's components from a Config.  The server
// binaries and the serve command all start through New.
package app

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/turtacn/ertviz/internal/application/export"
	"github.com/turtacn/ertviz/internal/config"
	"github.com/turtacn/ertviz/internal/controller"
	"github.com/turtacn/ertviz/internal/infrastructure/database/redis"
	"github.com/turtacn/ertviz/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ertviz/internal/infrastructure/storage/minio"
	httpserver "github.com/turtacn/ertviz/internal/interfaces/http"
	"github.com/turtacn/ertviz/internal/interfaces/http/handlers"
	"github.com/turtacn/ertviz/internal/interfaces/http/stream"
	"github.com/turtacn/ertviz/internal/plot"
	"github.com/turtacn/ertviz/pkg/client"
)

// EventSource is the envelope source of events published by the server.
const EventSource = "ertviz-server"

// App holds the long-lived components of the viewer server.
type App struct {
	Config     *config.Config
	Logger     logging.Logger
	Collector  prometheus.MetricsCollector
	Metrics    *prometheus.AppMetrics
	Backend    *client.Client
	Builder    *plot.Builder
	Controller *controller.Controller
	Hub        *stream.Hub

	// Optional; nil when disabled.
	Sink     *export.KafkaSink
	Archiver *export.Archiver

	redis    *redis.Client
	producer *kafka.Producer
	minio    *minio.MinIOClient
	unsubs   []func()

	closeOnce sync.Once
	closeErr  error
}

// New builds every component enabled in cfg.  On error the components
// built so far are released.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (_ *App, err error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if err = a.initMetrics(); err != nil {
		return nil, err
	}
	if err = a.initBackend(); err != nil {
		return nil, err
	}

	store, err := a.initSessionStore()
	if err != nil {
		return nil, err
	}
	a.Controller = controller.New(a.Backend, a.Builder,
		controller.WithStateStore(store),
		controller.WithLogger(logger.Named("controller")),
		controller.WithSessionObserver(a.Metrics.SetActiveSessions),
	)
	a.unsubs = append(a.unsubs, a.Controller.Bus().Subscribe(a.recordEvent))

	a.Hub = stream.NewHub(
		stream.WithLogger(logger.Named("stream")),
		stream.WithRecorder(a.Metrics),
	)
	a.unsubs = append(a.unsubs, a.Hub.Attach(a.Controller.Bus()))

	if cfg.Kafka.Enabled {
		if err = a.initSink(ctx); err != nil {
			return nil, err
		}
	}
	if cfg.MinIO.Enabled {
		if err = a.initArchiver(ctx); err != nil {
			return nil, err
		}
	}

	logger.Info("application initialized",
		logging.String("backend", cfg.Backend.BaseURL),
		logging.String("session_store", cfg.Session.Store),
		logging.Bool("kafka", cfg.Kafka.Enabled),
		logging.Bool("minio", cfg.MinIO.Enabled))
	return a, nil
}

func (a *App) initMetrics() error {
	m := a.Config.Metrics
	c, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            m.Namespace,
		Subsystem:            m.Subsystem,
		EnableProcessMetrics: m.EnableProcessMetrics,
		EnableGoMetrics:      m.EnableGoMetrics,
	}, a.Logger)
	if err != nil {
		return err
	}
	a.Collector = c
	a.Metrics = prometheus.NewAppMetrics(c)
	return nil
}

func (a *App) initBackend() error {
	b := a.Config.Backend
	c, err := client.NewClient(b.BaseURL,
		client.WithTimeout(b.Timeout),
		client.WithUserAgent(b.UserAgent),
		client.WithToken(b.Token),
		client.WithLogger(logging.NewPrintf(a.Logger.Named("backend"))),
		client.WithObserver(func(kind client.FetchKind, status int, elapsed time.Duration) {
			a.Metrics.RecordFetch(string(kind), status, elapsed)
		}),
	)
	if err != nil {
		return err
	}
	a.Backend = c
	a.Builder = plot.NewBuilder(
		plot.WithConcurrency(b.FetchConcurrency),
		plot.WithLogger(a.Logger.Named("plot")),
		plot.WithObserver(func(_ string, series int, elapsed time.Duration, err error) {
			a.Metrics.RecordBuild(series, elapsed, err)
		}),
	)
	return nil
}

func (a *App) initSessionStore() (controller.StateStore, error) {
	if a.Config.Session.Store != config.SessionStoreRedis {
		return controller.NewMemoryStore(), nil
	}
	rc := a.Config.Redis.RedisConfig
	c, err := redis.NewClient(&rc, a.Logger.Named("redis"))
	if err != nil {
		return nil, err
	}
	a.redis = c
	cache := redis.NewRedisCache(c, a.Logger.Named("redis"),
		redis.WithPrefix(a.Config.Redis.KeyPrefix),
		redis.WithDefaultTTL(a.Config.Session.TTL))
	return controller.NewCacheStore(cache, a.Config.Session.TTL), nil
}

func (a *App) initSink(ctx context.Context) error {
	k := a.Config.Kafka
	if k.AutoCreateTopics {
		if err := EnsureTopics(ctx, k, a.Logger); err != nil {
			return err
		}
	}
	p, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:    k.Brokers,
		MaxRetries: k.MaxRetries,
		Security:   k.Security,
	}, a.Logger.Named("kafka"))
	if err != nil {
		return err
	}
	a.producer = p
	a.Sink = export.NewKafkaSink(p,
		export.WithTopic(k.Topic),
		export.WithSource(EventSource),
		export.WithQueueSize(k.QueueSize),
		export.WithSinkLogger(a.Logger.Named("sink")),
		export.WithSinkRecorder(a.Metrics),
	)
	a.unsubs = append(a.unsubs, a.Sink.Attach(a.Controller.Bus()))
	return nil
}

func (a *App) initArchiver(ctx context.Context) error {
	c, store, err := NewSnapshotStore(ctx, &a.Config.MinIO, a.Logger)
	if err != nil {
		return err
	}
	a.minio = c
	a.Archiver = NewArchiver(store, a.Config.Render, a.Metrics, a.Logger)
	return nil
}

// NewSnapshotStore connects to object storage.
func NewSnapshotStore(ctx context.Context, cfg *minio.MinIOConfig, logger logging.Logger) (*minio.MinIOClient, *minio.SnapshotStore, error) {
	c, err := minio.NewMinIOClient(ctx, cfg, logger.Named("minio"))
	if err != nil {
		return nil, nil, err
	}
	return c, minio.NewSnapshotStore(c, logger.Named("minio")), nil
}

// NewArchiver builds an archiver that renders PNGs when render.ArchivePNG is
// set.
func NewArchiver(store export.SnapshotWriter, render config.RenderConfig, rec export.Recorder, logger logging.Logger) *export.Archiver {
	opts := []export.ArchiverOption{
		export.WithArchiverLogger(logger.Named("archiver")),
		export.WithArchiverRecorder(rec),
	}
	if render.ArchivePNG {
		opts = append(opts, export.WithPNG(RenderOptions(render)))
	}
	return export.NewArchiver(store, opts...)
}

// EnsureTopics creates the figure and dead-letter topics.
func EnsureTopics(ctx context.Context, k config.KafkaConfig, logger logging.Logger) error {
	tm, err := kafka.NewTopicManager(k.Brokers, logger.Named("kafka"))
	if err != nil {
		return err
	}
	defer tm.Close()

	topics := []kafka.TopicConfig{{Name: k.Topic, NumPartitions: k.NumPartitions, ReplicationFactor: k.ReplicationFactor}}
	if k.DeadLetterTopic != "" {
		topics = append(topics, kafka.TopicConfig{Name: k.DeadLetterTopic, NumPartitions: 1, ReplicationFactor: k.ReplicationFactor})
	}
	return tm.EnsureTopics(ctx, topics)
}

// RenderOptions converts the render section to plot options.
func RenderOptions(r config.RenderConfig) plot.RenderOptions {
	return plot.RenderOptions{Width: r.Width, Height: r.Height, Legend: r.Legend}
}

func (a *App) recordEvent(ev controller.Event) {
	a.Metrics.RecordEvent(string(ev.Type()), "bus")
	if fc, ok := ev.(controller.FigureChanged); ok && !fc.Rebuilt {
		a.Metrics.RecordSelection()
	}
}

// Checkers returns the readiness checks of the enabled dependencies.
func (a *App) Checkers() []handlers.HealthChecker {
	checks := []handlers.HealthChecker{handlers.NewChecker("backend", a.Backend.Ping)}
	if a.redis != nil {
		checks = append(checks, handlers.NewChecker("redis", a.redis.Ping))
	}
	if a.minio != nil {
		checks = append(checks, handlers.NewChecker("minio", a.minio.HealthCheck))
	}
	return checks
}

// Handler builds the HTTP route tree.
func (a *App) Handler() http.Handler {
	sessionOpts := []handlers.SessionHandlerOption{
		handlers.WithStreamer(a.Hub),
		handlers.WithRenderOptions(RenderOptions(a.Config.Render)),
		handlers.WithMaxBodySize(a.Config.Server.MaxBodySize),
	}
	if a.Archiver != nil {
		sessionOpts = append(sessionOpts, handlers.WithSnapshotter(a.Archiver))
	}

	rc := httpserver.RouterConfig{
		ViewerHandler:  handlers.NewViewerHandler(a.Backend, a.Logger.Named("http")),
		SessionHandler: handlers.NewSessionHandler(a.Controller, a.Logger.Named("http"), sessionOpts...),
		HealthHandler:  handlers.NewHealthHandler(config.Version, a.Checkers()...),
		Logger:         a.Logger.Named("http"),
	}
	if a.Config.Metrics.Enabled {
		rc.Metrics = a.Metrics
		rc.MetricsHandler = a.Collector.Handler()
		rc.MetricsPath = a.Config.Metrics.Path
	}
	return httpserver.NewRouter(rc)
}

// Sweep drops idle sessions every interval until ctx is done.
func (a *App) Sweep(ctx context.Context) {
	interval := a.Config.Session.SweepInterval
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.Controller.Sweep(a.Config.Session.IdleTimeout)
		}
	}
}

// Serve runs the HTTP server on l and the session sweeper until ctx is
// done, then shuts the server down.
func (a *App) Serve(ctx context.Context, l net.Listener) error {
	srv := httpserver.NewServer(a.Config.Server, a.Handler(), a.Logger.Named("http"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.Sweep(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Hijacked websocket connections are not drained by Shutdown.
	a.Hub.Close()
	if err := srv.Stop(context.Background()); err != nil {
		return err
	}
	return <-errCh
}

// ListenAndServe listens on the configured address and calls Serve.
func (a *App) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", a.Config.Server.Addr())
	if err != nil {
		return err
	}
	return a.Serve(ctx, l)
}

// WatchConfig re-applies the log level whenever the file at path changes.
// Other settings need a restart.
func (a *App) WatchConfig(path string) error {
	ls, ok := a.Logger.(logging.LevelSetter)
	if !ok || path == "" {
		return nil
	}
	return config.Watch(path, func(c *config.Config) {
		if err := ls.SetLevel(c.Log.Level); err != nil {
			a.Logger.Warn("invalid log level in reloaded config", logging.String("level", c.Log.Level))
			return
		}
		a.Logger.Info("config reloaded", logging.String("log_level", c.Log.Level))
	}, func(err error) {
		a.Logger.Warn("config reload failed", logging.Err(err))
	})
}

// Close releases every component.  It is idempotent.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		for _, u := range a.unsubs {
			u()
		}
		if a.Hub != nil {
			a.Hub.Close()
		}
		if a.Sink != nil {
			if err := a.Sink.Close(ctx); err != nil {
				a.closeErr = err
			}
		}
		if a.producer != nil {
			if err := a.producer.Close(); err != nil && a.closeErr == nil {
				a.closeErr = err
			}
		}
		if a.redis != nil {
			if err := a.redis.Close(); err != nil && a.closeErr == nil {
				a.closeErr = err
			}
		}
		if a.minio != nil {
			_ = a.minio.Close()
		}
	})
	return a.closeErr
}
