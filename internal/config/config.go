// Package config defines the configuration of the ertviz binaries.  Types
// and validation live here; loading lives in loader.go.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/turtacn/ertviz/internal/infrastructure/database/redis"
	"github.com/turtacn/ertviz/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ertviz/internal/infrastructure/storage/minio"
)

// Build information, set with -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BackendConfig points at the ensemble REST API.
type BackendConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	Token            string        `mapstructure:"token"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
}

// SessionConfig controls where viewer sessions live and how long.
type SessionConfig struct {
	Store         string        `mapstructure:"store"` // "memory" | "redis"
	TTL           time.Duration `mapstructure:"ttl"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RedisConfig is the redis client configuration plus the key prefix of the
// session store.
type RedisConfig struct {
	redis.RedisConfig `mapstructure:",squash"`
	KeyPrefix         string `mapstructure:"key_prefix"`
}

// KafkaConfig holds the figure event producer and the worker consumer
// settings.
type KafkaConfig struct {
	Enabled           bool                 `mapstructure:"enabled"`
	Brokers           []string             `mapstructure:"brokers"`
	Topic             string               `mapstructure:"topic"`
	DeadLetterTopic   string               `mapstructure:"dead_letter_topic"`
	GroupID           string               `mapstructure:"group_id"`
	AutoOffsetReset   string               `mapstructure:"auto_offset_reset"`
	AutoCreateTopics  bool                 `mapstructure:"auto_create_topics"`
	NumPartitions     int                  `mapstructure:"num_partitions"`
	ReplicationFactor int                  `mapstructure:"replication_factor"`
	QueueSize         int                  `mapstructure:"queue_size"`
	MaxRetries        int                  `mapstructure:"max_retries"`
	Security          kafka.SecurityConfig `mapstructure:"security"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Namespace            string `mapstructure:"namespace"`
	Subsystem            string `mapstructure:"subsystem"`
	Path                 string `mapstructure:"path"`
	EnableProcessMetrics bool   `mapstructure:"enable_process_metrics"`
	EnableGoMetrics      bool   `mapstructure:"enable_go_metrics"`
}

// RenderConfig sizes server-side PNG renderings.
type RenderConfig struct {
	Width  int  `mapstructure:"width"`
	Height int  `mapstructure:"height"`
	Legend bool `mapstructure:"legend"`
	// ArchivePNG stores a PNG next to every archived figure.
	ArchivePNG bool `mapstructure:"archive_png"`
}

// Config is the root configuration.
type Config struct {
	Server  ServerConfig      `mapstructure:"server"`
	Backend BackendConfig     `mapstructure:"backend"`
	Session SessionConfig     `mapstructure:"session"`
	Redis   RedisConfig       `mapstructure:"redis"`
	Kafka   KafkaConfig       `mapstructure:"kafka"`
	MinIO   minio.MinIOConfig `mapstructure:"minio"`
	Metrics MetricsConfig     `mapstructure:"metrics"`
	Render  RenderConfig      `mapstructure:"render"`
	Log     logging.LogConfig `mapstructure:"log"`
}

// Validate performs semantic validation of a defaulted Config.  It returns
// the first error found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("config: backend.base_url is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: backend.base_url %q must be an absolute http(s) URL", c.Backend.BaseURL)
	}
	if c.Backend.FetchConcurrency < 1 {
		return fmt.Errorf("config: backend.fetch_concurrency must be >= 1, got %d", c.Backend.FetchConcurrency)
	}

	switch c.Session.Store {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if c.Redis.Addr == "" && len(c.Redis.SentinelAddrs) == 0 && len(c.Redis.ClusterAddrs) == 0 {
			return fmt.Errorf("config: session.store is redis but no redis address is set")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("config: redis.db must be >= 0, got %d", c.Redis.DB)
		}
	default:
		return fmt.Errorf("config: session.store %q is invalid; expected memory|redis", c.Session.Store)
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("config: kafka.topic is required")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required")
		}
	}

	if c.MinIO.Enabled && c.MinIO.Endpoint == "" {
		return fmt.Errorf("config: minio.endpoint is required when minio is enabled")
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("config: metrics.namespace is required")
	}

	if c.Render.Width < 1 || c.Render.Height < 1 {
		return fmt.Errorf("config: render size %dx%d is invalid", c.Render.Width, c.Render.Height)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}
	return nil
}
