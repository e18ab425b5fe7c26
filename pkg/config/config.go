// Package config holds the engine configuration: built-in defaults, an
// optional YAML file and environment overrides, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/intel-batch/pkg/batch"
	"github.com/Sternrassler/intel-batch/pkg/client"
	"github.com/Sternrassler/intel-batch/pkg/retry"
)

// Environment variables read by ApplyEnv.
const (
	EnvEndpoint      = "INTEL_ENDPOINT"
	EnvAPIKey        = "INTEL_API_KEY"
	EnvRedisURL      = "REDIS_URL"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvMetricsAddr   = "METRICS_ADDR"
	EnvLogLevel      = "LOG_LEVEL"
)

var (
	// ErrMissingEndpoint is returned when no intelligence endpoint is set.
	ErrMissingEndpoint = errors.New("intelligence endpoint is not configured (set " + EnvEndpoint + ")")

	// ErrMissingAPIKey is returned when no API key is set.
	ErrMissingAPIKey = errors.New("intelligence API key is not configured (set " + EnvAPIKey + ")")

	// ErrInvalidValue is wrapped by every range check failure.
	ErrInvalidValue = errors.New("invalid configuration value")
)

// Config is the complete engine configuration.
type Config struct {
	BatchSize                int     `yaml:"batch_size"`
	NumWorkers               int     `yaml:"num_workers"`
	MaxRetries               int     `yaml:"max_retries"`
	InitialRetryDelaySeconds float64 `yaml:"initial_retry_delay_seconds"`
	MaxCallsPerMinute        int     `yaml:"max_calls_per_minute"`
	ExponentialBase          float64 `yaml:"exponential_base"`
	Jitter                   bool    `yaml:"jitter"`

	// MaxInFlight caps submitted batches per progress checkpoint.
	// Zero means twice the number of workers.
	MaxInFlight int `yaml:"max_in_flight"`

	Intelligence IntelligenceConfig `yaml:"intelligence"`
	Redis        RedisConfig        `yaml:"redis"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// IntelligenceConfig configures the HTTP intelligence service.
type IntelligenceConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent"`
}

// RedisConfig enables the result cache and progress mirror when Addr is set.
type RedisConfig struct {
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	KeyPrefix       string `yaml:"key_prefix"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BatchSize:                15,
		NumWorkers:               4,
		MaxRetries:               3,
		InitialRetryDelaySeconds: 2,
		MaxCallsPerMinute:        30,
		ExponentialBase:          2,
		Jitter:                   true,
		Intelligence: IntelligenceConfig{
			TimeoutSeconds: 100,
			UserAgent:      "intel-batch/0.1.0",
		},
		Redis: RedisConfig{
			CacheTTLSeconds: 86400,
			KeyPrefix:       "intel",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path. Keys absent
// from the file keep their default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config YAML from %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvEndpoint); ok && v != "" {
		c.Intelligence.Endpoint = v
	}
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		c.Intelligence.APIKey = v
	}
	if v, ok := lookup(EnvRedisURL); ok && v != "" {
		opts, err := redis.ParseURL(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRedisURL, err)
		}
		c.Redis.Addr = opts.Addr
		c.Redis.Password = opts.Password
		c.Redis.DB = opts.DB
	}
	if v, ok := lookup(EnvRedisPassword); ok && v != "" {
		c.Redis.Password = v
	}
	if v, ok := lookup(EnvMetricsAddr); ok && v != "" {
		c.Metrics.Addr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return nil
}

// Validate checks numeric ranges and the log level.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, field string, value any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s = %v", ErrInvalidValue, field, value))
		}
	}

	check(c.BatchSize > 0, "batch_size", c.BatchSize)
	check(c.NumWorkers > 0, "num_workers", c.NumWorkers)
	check(c.MaxRetries >= 0, "max_retries", c.MaxRetries)
	check(c.InitialRetryDelaySeconds >= 0, "initial_retry_delay_seconds", c.InitialRetryDelaySeconds)
	check(c.MaxCallsPerMinute >= 0, "max_calls_per_minute", c.MaxCallsPerMinute)
	check(c.ExponentialBase >= 1, "exponential_base", c.ExponentialBase)
	check(c.MaxInFlight >= 0, "max_in_flight", c.MaxInFlight)
	check(c.Intelligence.TimeoutSeconds >= 0, "intelligence.timeout_seconds", c.Intelligence.TimeoutSeconds)
	check(c.Redis.CacheTTLSeconds >= 0, "redis.cache_ttl_seconds", c.Redis.CacheTTLSeconds)

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: logging.level = %q", ErrInvalidValue, c.Logging.Level))
	}

	return errors.Join(errs...)
}

// ValidateCredentials checks that the intelligence service can be reached
// with credentials.
func (c *Config) ValidateCredentials() error {
	var errs []error
	if c.Intelligence.Endpoint == "" {
		errs = append(errs, ErrMissingEndpoint)
	}
	if c.Intelligence.APIKey == "" {
		errs = append(errs, ErrMissingAPIKey)
	}
	return errors.Join(errs...)
}

// RetryConfig converts the retry settings.
func (c *Config) RetryConfig() retry.Config {
	return retry.Config{
		MaxRetries:      c.MaxRetries,
		InitialDelay:    time.Duration(c.InitialRetryDelaySeconds * float64(time.Second)),
		ExponentialBase: c.ExponentialBase,
		Jitter:          c.Jitter,
	}
}

// BatchConfig converts the scheduling settings.
func (c *Config) BatchConfig() batch.Config {
	return batch.Config{
		BatchSize:   c.BatchSize,
		NumWorkers:  c.NumWorkers,
		MaxInFlight: c.MaxInFlight,
	}
}

// ClientConfig converts the intelligence service settings.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.Intelligence.Endpoint, c.Intelligence.APIKey)
	if c.Intelligence.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(c.Intelligence.TimeoutSeconds) * time.Second
	}
	if c.Intelligence.UserAgent != "" {
		cfg.UserAgent = c.Intelligence.UserAgent
	}
	return cfg
}

// RedisEnabled reports whether a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

// RedisOptions returns the go-redis client options.
func (c *Config) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// CacheTTL returns the result cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}
