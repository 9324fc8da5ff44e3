package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigParseError   = errors.New("config file could not be parsed")
)

// envPrefix is the environment variable prefix of every setting.
const envPrefix = "ERTVIZ"

// newViper returns a viper instance reading YAML, with ERTVIZ_ env
// overrides where "." maps to "_" (backend.base_url → ERTVIZ_BACKEND_BASE_URL).
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerKeys(v)
	return v
}

// registerKeys declares every known key so that env overrides apply to keys
// absent from the file.  Unmarshal only visits keys viper knows about.
func registerKeys(v *viper.Viper) {
	d := NewDefaultConfig()
	defaults := map[string]interface{}{
		"server.host":             d.Server.Host,
		"server.port":             d.Server.Port,
		"server.read_timeout":     d.Server.ReadTimeout,
		"server.write_timeout":    d.Server.WriteTimeout,
		"server.max_body_size":    d.Server.MaxBodySize,
		"server.shutdown_timeout": d.Server.ShutdownTimeout,

		"backend.base_url":          d.Backend.BaseURL,
		"backend.timeout":           d.Backend.Timeout,
		"backend.user_agent":        d.Backend.UserAgent,
		"backend.token":             "",
		"backend.fetch_concurrency": d.Backend.FetchConcurrency,

		"session.store":          d.Session.Store,
		"session.ttl":            d.Session.TTL,
		"session.idle_timeout":   d.Session.IdleTimeout,
		"session.sweep_interval": d.Session.SweepInterval,

		"redis.mode":       "",
		"redis.addr":       d.Redis.Addr,
		"redis.password":   "",
		"redis.username":   "",
		"redis.db":         0,
		"redis.key_prefix": d.Redis.KeyPrefix,

		"kafka.enabled":                 false,
		"kafka.brokers":                 d.Kafka.Brokers,
		"kafka.topic":                   d.Kafka.Topic,
		"kafka.dead_letter_topic":       d.Kafka.DeadLetterTopic,
		"kafka.group_id":                d.Kafka.GroupID,
		"kafka.auto_offset_reset":       d.Kafka.AutoOffsetReset,
		"kafka.auto_create_topics":      false,
		"kafka.num_partitions":          d.Kafka.NumPartitions,
		"kafka.replication_factor":      d.Kafka.ReplicationFactor,
		"kafka.queue_size":              d.Kafka.QueueSize,
		"kafka.max_retries":             d.Kafka.MaxRetries,
		"kafka.security.sasl_enabled":   false,
		"kafka.security.sasl_mechanism": "",
		"kafka.security.sasl_username":  "",
		"kafka.security.sasl_password":  "",
		"kafka.security.tls_enabled":    false,
		"kafka.security.tls_cert_path":  "",

		"minio.enabled":           false,
		"minio.endpoint":          "",
		"minio.access_key_id":     "",
		"minio.secret_access_key": "",
		"minio.use_ssl":           false,
		"minio.region":            d.MinIO.Region,
		"minio.bucket":            d.MinIO.Bucket,
		"minio.expiry_days":       d.MinIO.ExpiryDays,
		"minio.presign_expiry":    d.MinIO.PresignExpiry,

		"metrics.enabled":                d.Metrics.Enabled,
		"metrics.namespace":              d.Metrics.Namespace,
		"metrics.subsystem":              "",
		"metrics.path":                   d.Metrics.Path,
		"metrics.enable_process_metrics": false,
		"metrics.enable_go_metrics":      false,

		"render.width":       d.Render.Width,
		"render.height":      d.Render.Height,
		"render.legend":      d.Render.Legend,
		"render.archive_png": false,

		"log.level":  d.Log.Level,
		"log.format": d.Log.Format,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Load reads the YAML file at configPath, applies ERTVIZ_* overrides and
// defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v, err := readFile(configPath)
	if err != nil {
		return nil, err
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from ERTVIZ_* environment variables and
// defaults alone.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func readFile(configPath string) (*viper.Viper, error) {
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
	}
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigParseError, configPath, err)
	}
	return v, nil
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// Watch calls onChange with the reloaded Config whenever configPath changes
// on disk.  A change that fails to parse or validate is passed to onError
// (when non-nil) and onChange is not called.  Watch does not block.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v, err := readFile(configPath)
	if err != nil {
		return err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad is Load that panics on error, for use in main.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
