// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates. Precedence: defaults, then the YAML file, then
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cinemux/cinemux/internal/ratelimit"
)

// Config represents the complete proxy configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Ratings   RatingsConfig   `yaml:"ratings"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// CacheConfig controls the shared cache tier. An empty URL disables the
// tier entirely; the proxy then serves every request as a bypass.
type CacheConfig struct {
	URL        string `yaml:"url"`
	Namespace  string `yaml:"namespace"`
	Version    string `yaml:"version"`
	DisableRaw bool   `yaml:"disable_raw"`
}

// RateLimitConfig wraps the per-identity admission budgets.
type RateLimitConfig struct {
	Enabled bool             `yaml:"enabled"`
	Limits  ratelimit.Limits `yaml:"limits"`
}

// UpstreamConfig tunes the wrapped-addon fetcher.
type UpstreamConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	Attempts          int           `yaml:"attempts"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	UserAgent         string        `yaml:"user_agent"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// RatingsConfig configures the rating sources and the batch consolidator.
// Sources without credentials stay registered but answer nothing.
type RatingsConfig struct {
	ServiceURL      string        `yaml:"service_url"`
	TMDBAPIKey      string        `yaml:"tmdb_api_key"`
	MDBListAPIKey   string        `yaml:"mdblist_api_key"`
	AniListEndpoint string        `yaml:"anilist_endpoint"`
	Concurrency     int           `yaml:"concurrency"`
	FirstWaveDelay  time.Duration `yaml:"first_wave_delay"`
	WaveDelay       time.Duration `yaml:"wave_delay"`
}

// AdminConfig protects the admin surface. An empty secret leaves admin
// routes open, which is only sane for local development.
type AdminConfig struct {
	Secret string `yaml:"secret"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	Protocol    string  `yaml:"protocol"`     // "grpc" or "http"
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         7070,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Cache: CacheConfig{
			Namespace: "cinemux",
			Version:   "1",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limits:  ratelimit.DefaultLimits(),
		},
		Upstream: UpstreamConfig{
			Timeout:      20 * time.Second,
			Attempts:     3,
			RetryBackoff: time.Second,
			UserAgent:    "cinemux/1.0",
		},
		Ratings: RatingsConfig{
			Concurrency:    10,
			FirstWaveDelay: 150 * time.Millisecond,
			WaveDelay:      50 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "cinemux",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file. Environment
// variables in the format ${VAR_NAME} are expanded before parsing, and the
// well-known environment overrides are applied after.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays the enumerated environment inputs. Environment always
// wins over the file so container deployments can override without edits.
func (c *Config) applyEnv() {
	envInt("CINEMUX_PORT", &c.Server.Port)
	envStr("CINEMUX_ADMIN_SECRET", &c.Admin.Secret)
	envStr("REDIS_URL", &c.Cache.URL)
	envStr("CACHE_VERSION", &c.Cache.Version)
	envBool("DISABLE_RAW_CACHE", &c.Cache.DisableRaw)
	envStr("RATINGS_SERVICE_URL", &c.Ratings.ServiceURL)
	envStr("TMDB_API_KEY", &c.Ratings.TMDBAPIKey)
	envStr("MDBLIST_API_KEY", &c.Ratings.MDBListAPIKey)

	envInt("RATE_LIMIT_ANON_RPS", &c.RateLimit.Limits.AnonymousStandard.RPS)
	envInt("RATE_LIMIT_ANON_BURST", &c.RateLimit.Limits.AnonymousStandard.Burst)
	envInt("RATE_LIMIT_ANON_SEARCH_RPS", &c.RateLimit.Limits.AnonymousSearch.RPS)
	envInt("RATE_LIMIT_ANON_SEARCH_BURST", &c.RateLimit.Limits.AnonymousSearch.Burst)
	envInt("RATE_LIMIT_AUTH_RPS", &c.RateLimit.Limits.AuthenticatedStandard.RPS)
	envInt("RATE_LIMIT_AUTH_BURST", &c.RateLimit.Limits.AuthenticatedStandard.Burst)
	envInt("RATE_LIMIT_AUTH_SEARCH_RPS", &c.RateLimit.Limits.AuthenticatedSearch.RPS)
	envInt("RATE_LIMIT_AUTH_SEARCH_BURST", &c.RateLimit.Limits.AuthenticatedSearch.Burst)
}

func envStr(name string, dest *string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dest = v
	}
}

func envInt(name string, dest *int) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dest = n
		}
	}
}

func envBool(name string, dest *bool) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dest = b
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Cache.Version == "" {
		return fmt.Errorf("cache.version is required")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if c.Upstream.Attempts <= 0 {
		return fmt.Errorf("upstream.attempts must be positive")
	}
	if c.Ratings.Concurrency <= 0 {
		return fmt.Errorf("ratings.concurrency must be positive")
	}

	for name, pol := range map[string]ratelimit.Policy{
		"anonymous_standard":     c.RateLimit.Limits.AnonymousStandard,
		"anonymous_search":       c.RateLimit.Limits.AnonymousSearch,
		"authenticated_standard": c.RateLimit.Limits.AuthenticatedStandard,
		"authenticated_search":   c.RateLimit.Limits.AuthenticatedSearch,
	} {
		if pol.RPS < 0 || pol.Burst < 0 {
			return fmt.Errorf("rate_limit.limits.%s: rps and burst cannot be negative", name)
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
		}
		if c.Tracing.Protocol != "grpc" && c.Tracing.Protocol != "http" {
			return fmt.Errorf("tracing.protocol must be grpc or http, got %q", c.Tracing.Protocol)
		}
	}
	return nil
}
