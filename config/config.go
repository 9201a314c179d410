package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// UnsafeClientPolicy decides what happens to interactions that perform
// unsafe operations.
type UnsafeClientPolicy string

// Unsafe client policies.
const (
	// PolicyThrow fails the evaluation.
	PolicyThrow UnsafeClientPolicy = "throw"

	// PolicySkip records the interaction as invalid and continues.
	PolicySkip UnsafeClientPolicy = "skip"

	// PolicyAllow executes the interaction.
	PolicyAllow UnsafeClientPolicy = "allow"
)

// ValidPolicies contains all valid unsafe client policies.
var ValidPolicies = []UnsafeClientPolicy{PolicyThrow, PolicySkip, PolicyAllow}

// IsValid returns true if the policy is valid.
func (p UnsafeClientPolicy) IsValid() bool {
	for _, valid := range ValidPolicies {
		if p == valid {
			return true
		}
	}
	return false
}

// Config is the main configuration for a warp client.
type Config struct {
	Gateway    GatewayConfig    `toml:"gateway"`
	Loader     LoaderConfig     `toml:"loader"`
	Evaluation EvaluationConfig `toml:"evaluation"`
	Cache      CacheConfig      `toml:"cache"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Logging    LoggingConfig    `toml:"logging"`
	Tracing    TracingConfig    `toml:"tracing"`
}

// GatewayConfig configures the interaction index.
type GatewayConfig struct {
	// URL is the base URL of the gateway.
	URL string `toml:"url"`

	// Timeout bounds a single HTTP request.
	Timeout Duration `toml:"timeout"`

	// MaxRetries is the number of HTTP level retries per request.
	MaxRetries int `toml:"max_retries"`

	// RequestsPerSecond limits the request rate. Zero disables the limit.
	RequestsPerSecond float64 `toml:"requests_per_second"`

	// Burst is the number of requests allowed above the rate.
	Burst int `toml:"burst"`
}

// LoaderConfig configures interaction paging.
type LoaderConfig struct {
	// PageSize is the number of interactions requested per page.
	PageSize int `toml:"page_size"`

	// MaxAttempts is the number of attempts per page, including the first.
	MaxAttempts int `toml:"max_attempts"`

	// InitialInterval is the first backoff interval.
	InitialInterval Duration `toml:"initial_interval"`

	// MaxInterval caps the backoff interval.
	MaxInterval Duration `toml:"max_interval"`
}

// EvaluationConfig holds the default evaluation options.
type EvaluationConfig struct {
	// ConfirmationBlocks excludes interactions from the most recent blocks.
	ConfirmationBlocks uint64 `toml:"confirmation_blocks"`

	// MaxInteractionEvaluationTime bounds one interaction. Zero disables it.
	MaxInteractionEvaluationTime Duration `toml:"max_interaction_evaluation_time"`

	// UnsafeClient is one of "throw", "skip" or "allow".
	UnsafeClient UnsafeClientPolicy `toml:"unsafe_client"`

	// InternalWrites replays interactions that write through Interact-Write.
	InternalWrites bool `toml:"internal_writes"`
}

// CacheConfig selects the snapshot store.
type CacheConfig struct {
	// Backend is "memory", "leveldb", "badgerdb" or "redis".
	Backend string `toml:"backend"`

	// Path is the directory of disk backends.
	Path string `toml:"path"`

	// LRUSize is the number of decoded snapshots kept in memory.
	LRUSize int `toml:"lru_size"`

	Redis RedisConfig `toml:"redis"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled determines whether metrics collection is active.
	Enabled bool `toml:"enabled"`

	// Namespace is the Prometheus metrics namespace prefix.
	Namespace string `toml:"namespace"`

	// ListenAddr is the address to serve metrics on (e.g., ":9090").
	ListenAddr string `toml:"listen_addr"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	Level string `toml:"level"`

	// Format is the log output format ("text" or "json").
	Format string `toml:"format"`

	// Output is the log output destination ("stdout", "stderr", or a file path).
	Output string `toml:"output"`
}

// TracingConfig contains tracing configuration.
type TracingConfig struct {
	Enabled        bool    `toml:"enabled"`
	ServiceName    string  `toml:"service_name"`
	ServiceVersion string  `toml:"service_version"`
	Environment    string  `toml:"environment"`
	SampleRate     float64 `toml:"sample_rate"`

	// Exporter is "none", "stdout", "otlp-grpc", "otlp-http" or "zipkin".
	Exporter string `toml:"exporter"`
	Endpoint string `toml:"endpoint"`
}

// Duration is a wrapper around time.Duration for TOML unmarshaling.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL:               "https://arweave.net",
			Timeout:           Duration(30 * time.Second),
			MaxRetries:        3,
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Loader: LoaderConfig{
			PageSize:        500,
			MaxAttempts:     5,
			InitialInterval: Duration(200 * time.Millisecond),
			MaxInterval:     Duration(5 * time.Second),
		},
		Evaluation: EvaluationConfig{
			ConfirmationBlocks:           0,
			MaxInteractionEvaluationTime: Duration(60 * time.Second),
			UnsafeClient:                 PolicyThrow,
		},
		Cache: CacheConfig{
			Backend: "leveldb",
			Path:    "data/cache",
			LRUSize: 1024,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "warp",
			},
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			Namespace:  "warp",
			ListenAddr: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "warp",
			Environment: "development",
			SampleRate:  1.0,
			Exporter:    "none",
		},
	}
}

// LoadConfig loads configuration from a TOML file.
// Missing values are filled with defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validation errors.
var (
	ErrEmptyGatewayURL          = errors.New("gateway url cannot be empty")
	ErrInvalidGatewayTimeout    = errors.New("gateway timeout must be positive")
	ErrInvalidGatewayRetries    = errors.New("gateway max_retries must be non-negative")
	ErrInvalidGatewayRate       = errors.New("gateway requests_per_second must be non-negative")
	ErrInvalidGatewayBurst      = errors.New("gateway burst must be positive when rate limited")
	ErrInvalidPageSize          = errors.New("loader page_size must be positive")
	ErrInvalidMaxAttempts       = errors.New("loader max_attempts must be positive")
	ErrInvalidInitialInterval   = errors.New("loader initial_interval must be positive")
	ErrInvalidMaxInterval       = errors.New("loader max_interval must not be below initial_interval")
	ErrInvalidEvaluationTime    = errors.New("max_interaction_evaluation_time must be non-negative")
	ErrInvalidUnsafeClient      = errors.New("unsafe_client must be one of: throw, skip, allow")
	ErrInvalidCacheBackend      = errors.New("cache backend must be 'memory', 'leveldb', 'badgerdb' or 'redis'")
	ErrEmptyCachePath           = errors.New("cache path cannot be empty for disk backends")
	ErrEmptyRedisAddr           = errors.New("cache redis addr cannot be empty")
	ErrInvalidLRUSize           = errors.New("cache lru_size must be positive")
	ErrEmptyMetricsNamespace    = errors.New("metrics namespace cannot be empty when enabled")
	ErrEmptyMetricsListenAddr   = errors.New("metrics listen_addr cannot be empty when enabled")
	ErrInvalidLogLevel          = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat         = errors.New("log format must be 'text' or 'json'")
	ErrEmptyLogOutput           = errors.New("log output cannot be empty")
	ErrEmptyTracingServiceName  = errors.New("tracing service_name cannot be empty when enabled")
	ErrInvalidTracingSampleRate = errors.New("tracing sample_rate must be between 0 and 1")
	ErrInvalidTracingExporter   = errors.New("tracing exporter must be one of: none, stdout, otlp-grpc, otlp-http, zipkin")
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}
	if err := c.Loader.Validate(); err != nil {
		return fmt.Errorf("loader config: %w", err)
	}
	if err := c.Evaluation.Validate(); err != nil {
		return fmt.Errorf("evaluation config: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing config: %w", err)
	}
	return nil
}

// Validate checks the gateway configuration for errors.
func (c *GatewayConfig) Validate() error {
	if c.URL == "" {
		return ErrEmptyGatewayURL
	}
	if c.Timeout.Duration() <= 0 {
		return ErrInvalidGatewayTimeout
	}
	if c.MaxRetries < 0 {
		return ErrInvalidGatewayRetries
	}
	if c.RequestsPerSecond < 0 {
		return ErrInvalidGatewayRate
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		return ErrInvalidGatewayBurst
	}
	return nil
}

// Validate checks the loader configuration for errors.
func (c *LoaderConfig) Validate() error {
	if c.PageSize <= 0 {
		return ErrInvalidPageSize
	}
	if c.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if c.InitialInterval.Duration() <= 0 {
		return ErrInvalidInitialInterval
	}
	if c.MaxInterval.Duration() < c.InitialInterval.Duration() {
		return ErrInvalidMaxInterval
	}
	return nil
}

// Validate checks the evaluation configuration for errors.
func (c *EvaluationConfig) Validate() error {
	if c.MaxInteractionEvaluationTime.Duration() < 0 {
		return ErrInvalidEvaluationTime
	}
	if !c.UnsafeClient.IsValid() {
		return ErrInvalidUnsafeClient
	}
	return nil
}

// Validate checks the cache configuration for errors.
func (c *CacheConfig) Validate() error {
	switch c.Backend {
	case "memory":
	case "leveldb", "badgerdb":
		if c.Path == "" {
			return ErrEmptyCachePath
		}
	case "redis":
		if c.Redis.Addr == "" {
			return ErrEmptyRedisAddr
		}
	default:
		return ErrInvalidCacheBackend
	}
	if c.LRUSize <= 0 {
		return ErrInvalidLRUSize
	}
	return nil
}

// Validate checks the metrics configuration for errors.
func (c *MetricsConfig) Validate() error {
	if c.Enabled {
		if c.Namespace == "" {
			return ErrEmptyMetricsNamespace
		}
		if c.ListenAddr == "" {
			return ErrEmptyMetricsListenAddr
		}
	}
	return nil
}

// Validate checks the logging configuration for errors.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return ErrInvalidLogLevel
	}

	switch c.Format {
	case "text", "json":
		// Valid formats
	default:
		return ErrInvalidLogFormat
	}

	if c.Output == "" {
		return ErrEmptyLogOutput
	}

	return nil
}

// Validate checks the tracing configuration for errors.
func (c *TracingConfig) Validate() error {
	switch c.Exporter {
	case "none", "stdout", "otlp-grpc", "otlp-http", "zipkin":
	default:
		return ErrInvalidTracingExporter
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return ErrInvalidTracingSampleRate
	}
	if c.Enabled && c.ServiceName == "" {
		return ErrEmptyTracingServiceName
	}
	return nil
}

// WriteConfigFile writes the configuration to a TOML file.
func WriteConfigFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}

// EnsureDataDirs creates the data directories specified in the configuration.
func (c *Config) EnsureDataDirs() error {
	var dirs []string
	if c.Cache.Backend == "leveldb" || c.Cache.Backend == "badgerdb" {
		dirs = append(dirs, c.Cache.Path)
	}
	if c.Logging.Output != "stdout" && c.Logging.Output != "stderr" {
		dirs = append(dirs, filepath.Dir(c.Logging.Output))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	return nil
}
