// Package config provides unified configuration for all uuidvault services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode represents the service mode to run.
type Mode string

const (
	ModeAll         Mode = "all"
	ModeIngest      Mode = "ingest"
	ModeConsume     Mode = "consume"
	ModeConsolidate Mode = "consolidate"
)

// Queue backends.
const (
	QueueWAL   = "wal"
	QueueKafka = "kafka"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Config holds the unified configuration for all uuidvault services.
type Config struct {
	// Mode specifies which services to run: all, ingest, consume, consolidate
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for local data (storage, WAL)
	DataDir string `json:"data_dir" yaml:"data_dir"`

	HTTP          HTTPConfig          `json:"http" yaml:"http"`
	GRPC          GRPCConfig          `json:"grpc" yaml:"grpc"`
	Auth          AuthConfig          `json:"auth" yaml:"auth"`
	Queue         QueueConfig         `json:"queue" yaml:"queue"`
	Consolidation ConsolidationConfig `json:"consolidation" yaml:"consolidation"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Reporting     ReportingConfig     `json:"reporting" yaml:"reporting"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr serves ingestion, /health and /trigger
	Addr string `json:"addr" yaml:"addr"`

	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	Addr    string `json:"addr" yaml:"addr"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// AuthConfig holds the shared ingestion secret.
type AuthConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"`
}

// QueueConfig selects and configures the queue between ingestion and shard writing.
type QueueConfig struct {
	// Type is the queue backend: wal, kafka
	Type string `json:"type" yaml:"type"`

	// BatchSize is the maximum number of messages per delivered batch
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// PollInterval is how often the WAL poller checks for new entries
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// MaxRedeliveries bounds redelivery of a failing batch (0 = unlimited)
	MaxRedeliveries int `json:"max_redeliveries" yaml:"max_redeliveries"`

	WAL   WALConfig   `json:"wal" yaml:"wal"`
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
}

// WALConfig configures the local write-ahead log queue.
type WALConfig struct {
	Dir            string `json:"dir" yaml:"dir"`
	MaxSegmentSize int64  `json:"max_segment_size" yaml:"max_segment_size"`
}

// KafkaConfig configures the Kafka queue.
type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	Group   string   `json:"group" yaml:"group"`
}

// ConsolidationConfig holds consolidation daemon configuration.
type ConsolidationConfig struct {
	// CheckInterval is the interval between scheduled runs
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`

	// LookbackHours is the number of completed hours examined per run
	LookbackHours int `json:"lookback_hours" yaml:"lookback_hours"`

	// Order is oldest-first or newest-first
	Order string `json:"order" yaml:"order"`

	// FetchConcurrency bounds parallel shard reads
	FetchConcurrency int `json:"fetch_concurrency" yaml:"fetch_concurrency"`

	// RunOnStart runs once when the daemon starts
	RunOnStart bool `json:"run_on_start" yaml:"run_on_start"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// ReportingConfig configures exception capture. An empty DSN disables it.
type ReportingConfig struct {
	SentryDSN   string `json:"sentry_dsn" yaml:"sentry_dsn"`
	Environment string `json:"environment" yaml:"environment"`
	Release     string `json:"release" yaml:"release"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/uuidvault",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: false,
		},
		Queue: QueueConfig{
			Type:         QueueWAL,
			BatchSize:    100,
			PollInterval: time.Second,
			WAL: WALConfig{
				MaxSegmentSize: 64 * 1024 * 1024,
			},
			Kafka: KafkaConfig{
				Topic: "uuidvault-records",
				Group: "uuidvault-shard-writer",
			},
		},
		Consolidation: ConsolidationConfig{
			CheckInterval:    20 * time.Minute,
			LookbackHours:    2,
			Order:            "oldest-first",
			FetchConcurrency: 8,
		},
		Storage: StorageConfig{
			Type: StorageLocal,
			S3: S3Config{
				Region: "us-east-1",
			},
		},
	}
}

// Resolve fills local paths that were left empty from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/uuidvault"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Queue.WAL.Dir == "" {
		c.Queue.WAL.Dir = filepath.Join(c.DataDir, "wal")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeIngest, ModeConsume, ModeConsolidate:
	default:
		return fmt.Errorf("invalid mode: %s (must be all, ingest, consume, or consolidate)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.ShouldRunIngest() && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required when ingestion is enabled")
	}

	switch c.Queue.Type {
	case QueueWAL:
		// The WAL is a local file log; its producer and poller must share a process.
		if c.usesQueue() && c.Mode != ModeAll {
			return fmt.Errorf("queue type wal requires mode all, got %s", c.Mode)
		}
	case QueueKafka:
		if c.usesQueue() {
			if len(c.Queue.Kafka.Brokers) == 0 {
				return fmt.Errorf("queue.kafka.brokers is required when queue type is kafka")
			}
			if c.Queue.Kafka.Topic == "" {
				return fmt.Errorf("queue.kafka.topic is required when queue type is kafka")
			}
			if c.ShouldRunConsume() && c.Queue.Kafka.Group == "" {
				return fmt.Errorf("queue.kafka.group is required to consume")
			}
		}
	default:
		return fmt.Errorf("invalid queue type: %s (must be wal or kafka)", c.Queue.Type)
	}

	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be positive, got %d", c.Queue.BatchSize)
	}
	if c.Queue.MaxRedeliveries < 0 {
		return fmt.Errorf("queue.max_redeliveries must not be negative, got %d", c.Queue.MaxRedeliveries)
	}

	if c.Consolidation.LookbackHours <= 0 {
		return fmt.Errorf("consolidation.lookback_hours must be positive, got %d", c.Consolidation.LookbackHours)
	}
	if c.Consolidation.CheckInterval <= 0 {
		return fmt.Errorf("consolidation.check_interval must be positive")
	}
	switch c.Consolidation.Order {
	case "", "oldest-first", "newest-first":
	default:
		return fmt.Errorf("invalid consolidation.order: %s (must be oldest-first or newest-first)", c.Consolidation.Order)
	}

	if c.Storage.Type != StorageLocal && c.Storage.Type != StorageS3 {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == StorageS3 && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	return nil
}

func (c *Config) usesQueue() bool {
	return c.ShouldRunIngest() || c.ShouldRunConsume()
}

// ShouldRunIngest returns true if the ingestion endpoints should run.
func (c *Config) ShouldRunIngest() bool {
	return c.Mode == ModeAll || c.Mode == ModeIngest
}

// ShouldRunConsume returns true if the queue consumer should run.
func (c *Config) ShouldRunConsume() bool {
	return c.Mode == ModeAll || c.Mode == ModeConsume
}

// ShouldRunConsolidate returns true if the consolidation daemon should run.
func (c *Config) ShouldRunConsolidate() bool {
	return c.Mode == ModeAll || c.Mode == ModeConsolidate
}

// LoadFromFile loads configuration from a YAML or JSON file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overrides cfg from environment variables with the UUIDVAULT_ prefix.
// Unparseable values are ignored.
func LoadFromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv("UUIDVAULT_" + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv("UUIDVAULT_" + name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := os.Getenv("UUIDVAULT_" + name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	flag := func(name string, dst *bool) {
		if v := os.Getenv("UUIDVAULT_" + name); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	var mode string
	str("MODE", &mode)
	if mode != "" {
		cfg.Mode = Mode(mode)
	}
	str("DATA_DIR", &cfg.DataDir)

	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("GRPC_ADDR", &cfg.GRPC.Addr)
	flag("GRPC_ENABLED", &cfg.GRPC.Enabled)

	str("API_KEY", &cfg.Auth.APIKey)

	str("QUEUE_TYPE", &cfg.Queue.Type)
	num("QUEUE_BATCH_SIZE", &cfg.Queue.BatchSize)
	dur("QUEUE_POLL_INTERVAL", &cfg.Queue.PollInterval)
	num("QUEUE_MAX_REDELIVERIES", &cfg.Queue.MaxRedeliveries)
	str("WAL_DIR", &cfg.Queue.WAL.Dir)
	if v := os.Getenv("UUIDVAULT_KAFKA_BROKERS"); v != "" {
		cfg.Queue.Kafka.Brokers = splitList(v)
	}
	str("KAFKA_TOPIC", &cfg.Queue.Kafka.Topic)
	str("KAFKA_GROUP", &cfg.Queue.Kafka.Group)

	dur("CONSOLIDATION_CHECK_INTERVAL", &cfg.Consolidation.CheckInterval)
	num("CONSOLIDATION_LOOKBACK_HOURS", &cfg.Consolidation.LookbackHours)
	str("CONSOLIDATION_ORDER", &cfg.Consolidation.Order)
	num("CONSOLIDATION_FETCH_CONCURRENCY", &cfg.Consolidation.FetchConcurrency)
	flag("CONSOLIDATION_RUN_ON_START", &cfg.Consolidation.RunOnStart)

	str("STORAGE_TYPE", &cfg.Storage.Type)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("S3_BUCKET", &cfg.Storage.S3.Bucket)
	str("S3_REGION", &cfg.Storage.S3.Region)
	str("S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	flag("S3_USE_PATH_STYLE", &cfg.Storage.S3.UsePathStyle)

	str("SENTRY_DSN", &cfg.Reporting.SentryDSN)
	str("SENTRY_ENVIRONMENT", &cfg.Reporting.Environment)
	str("SENTRY_RELEASE", &cfg.Reporting.Release)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EnsureDirectories creates the local directories the selected backends need.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == StorageLocal {
		dirs = append(dirs, c.Storage.Path)
	}
	if c.Queue.Type == QueueWAL && c.usesQueue() {
		dirs = append(dirs, c.Queue.WAL.Dir)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
