// Package config loads the egress sink's YAML configuration, recognizing
// exactly the options spec.md §6 enumerates plus the transport-specific
// blocks the domain integrations consume.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// BatchConfig carries the Recognized Options from spec.md §6.
type BatchConfig struct {
	MaxEvents int           `yaml:"max_events"`
	MaxBytes  int           `yaml:"max_bytes"`
	Timeout   time.Duration `yaml:"timeout"`
	Ordered   bool          `yaml:"ordered"`
}

// PartitionConfig selects how events are mapped onto partition keys. With
// Shards empty, each event's own key (internal/ingest.PartitionKey) is its
// own partition. With Shards set, events are rendezvous-hashed onto that
// fixed shard set instead, bounding the number of live partitions regardless
// of how many distinct keys arrive.
type PartitionConfig struct {
	Shards []string `yaml:"shards"`
}

// KafkaConfig configures internal/transport/kafkaservice.
type KafkaConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Brokers          []string      `yaml:"brokers"`
	Topic            string        `yaml:"topic"`
	Compression      string        `yaml:"compression"` // "none", "snappy", "lz4", "gzip", "zstd"
	SASLEnabled      bool          `yaml:"sasl_enabled"`
	SASLUser         string        `yaml:"sasl_user"`
	SASLPassword     string        `yaml:"sasl_password"`
	SASLMechanism    string        `yaml:"sasl_mechanism"` // "SCRAM-SHA-256", "SCRAM-SHA-512"
	BreakerThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
}

// HTTPConfig configures internal/transport/httpservice.
type HTTPConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Endpoint       string        `yaml:"endpoint"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// MetricsConfig controls the promhttp exporter exposed by cmd/egressd.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// ServerConfig controls the HTTP ingest/health surface exposed by
// cmd/egressd, distinct from HTTPConfig which configures the downstream
// transport a batch is dispatched to.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controls the ambient logrus logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Config is the top-level egress sink configuration.
type Config struct {
	Batch       BatchConfig     `yaml:"batch"`
	Partition   PartitionConfig `yaml:"partition"`
	Kafka       KafkaConfig     `yaml:"kafka"`
	HTTP        HTTPConfig      `yaml:"http"`
	Metrics     MetricsConfig   `yaml:"metrics"`
	Server      ServerConfig    `yaml:"server"`
	Log         LogConfig       `yaml:"log"`
	PositionDir string          `yaml:"position_dir"`
}

// Load reads configFile (if non-empty), applies defaults for anything left
// unset, applies environment variable overrides, and validates the result.
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configFile, err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Batch.MaxEvents <= 0 {
		cfg.Batch.MaxEvents = 500
	}
	if cfg.Batch.Timeout <= 0 {
		cfg.Batch.Timeout = time.Second
	}

	if cfg.Kafka.Compression == "" {
		cfg.Kafka.Compression = "snappy"
	}
	if cfg.Kafka.BreakerThreshold <= 0 {
		cfg.Kafka.BreakerThreshold = 5
	}
	if cfg.Kafka.BreakerTimeout <= 0 {
		cfg.Kafka.BreakerTimeout = 30 * time.Second
	}

	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 10 * time.Second
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8081"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.PositionDir == "" {
		cfg.PositionDir = "/var/lib/egress-sink/positions"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EGRESS_BATCH_MAX_EVENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.MaxEvents = n
		}
	}
	if v := os.Getenv("EGRESS_BATCH_MAX_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.MaxBytes = n
		}
	}
	if v := os.Getenv("EGRESS_BATCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Batch.Timeout = d
		}
	}
	if v := os.Getenv("EGRESS_ORDERED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Batch.Ordered = b
		}
	}
	if v := os.Getenv("EGRESS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCSV(v)
	}
	if v := os.Getenv("EGRESS_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("EGRESS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// Validate rejects configurations the sink core's invariants cannot tolerate.
func Validate(cfg *Config) error {
	if cfg.Batch.MaxEvents <= 0 {
		return fmt.Errorf("batch.max_events must be positive, got %d", cfg.Batch.MaxEvents)
	}
	if cfg.Batch.MaxBytes < 0 {
		return fmt.Errorf("batch.max_bytes must not be negative, got %d", cfg.Batch.MaxBytes)
	}
	if cfg.Batch.Timeout <= 0 {
		return fmt.Errorf("batch.timeout must be positive, got %s", cfg.Batch.Timeout)
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must be set when kafka.enabled is true")
	}
	if cfg.HTTP.Enabled && cfg.HTTP.Endpoint == "" {
		return fmt.Errorf("http.endpoint must be set when http.enabled is true")
	}
	return nil
}
