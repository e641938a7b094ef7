package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cinemux/cinemux/internal/ratelimit"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 7070 {
		t.Errorf("default port = %d, want 7070", cfg.Server.Port)
	}

	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("default read timeout = %v, want 30s", cfg.Server.ReadTimeout)
	}

	if cfg.Cache.Version != "1" {
		t.Errorf("default cache version = %s, want 1", cfg.Cache.Version)
	}

	if cfg.Cache.URL != "" {
		t.Errorf("cache url should default empty, got %s", cfg.Cache.URL)
	}

	if !cfg.RateLimit.Enabled {
		t.Error("rate limiting should be enabled by default")
	}

	if cfg.RateLimit.Limits.AnonymousStandard.RPS != 10 {
		t.Errorf("anonymous rps = %d, want 10", cfg.RateLimit.Limits.AnonymousStandard.RPS)
	}

	if cfg.Upstream.Attempts != 3 {
		t.Errorf("upstream attempts = %d, want 3", cfg.Upstream.Attempts)
	}

	if cfg.Ratings.Concurrency != 10 {
		t.Errorf("ratings concurrency = %d, want 10", cfg.Ratings.Concurrency)
	}

	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled by default")
	}
}

func TestConfigValidation(t *testing.T) {
	valid := func() *Config { return DefaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid port zero",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "port",
		},
		{
			name:    "invalid port too high",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "port",
		},
		{
			name:    "missing cache version",
			mutate:  func(c *Config) { c.Cache.Version = "" },
			wantErr: "cache.version",
		},
		{
			name:    "zero upstream timeout",
			mutate:  func(c *Config) { c.Upstream.Timeout = 0 },
			wantErr: "upstream.timeout",
		},
		{
			name:    "zero upstream attempts",
			mutate:  func(c *Config) { c.Upstream.Attempts = 0 },
			wantErr: "upstream.attempts",
		},
		{
			name:    "zero ratings concurrency",
			mutate:  func(c *Config) { c.Ratings.Concurrency = 0 },
			wantErr: "ratings.concurrency",
		},
		{
			name: "negative rate limit rps",
			mutate: func(c *Config) {
				c.RateLimit.Limits.AnonymousSearch = ratelimit.Policy{RPS: -1, Burst: 5}
			},
			wantErr: "anonymous_search",
		},
		{
			name: "negative rate limit burst",
			mutate: func(c *Config) {
				c.RateLimit.Limits.AuthenticatedStandard = ratelimit.Policy{RPS: 20, Burst: -1}
			},
			wantErr: "authenticated_standard",
		},
		{
			name: "tracing enabled without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Endpoint = ""
			},
			wantErr: "tracing.endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Run("valid yaml", func(t *testing.T) {
		content := `
server:
  port: 9090
  read_timeout: 10s
cache:
  url: redis://localhost:6379/0
  version: "7"
rate_limit:
  limits:
    anonymous_standard:
      rps: 4
      burst: 8
upstream:
  user_agent: test-agent
`
		path := createTempFile(t, content)
		defer os.Remove(path)

		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}

		if cfg.Server.Port != 9090 {
			t.Errorf("port = %d, want 9090", cfg.Server.Port)
		}

		if cfg.Server.ReadTimeout != 10*time.Second {
			t.Errorf("read_timeout = %v, want 10s", cfg.Server.ReadTimeout)
		}

		if cfg.Cache.URL != "redis://localhost:6379/0" {
			t.Errorf("cache url = %s", cfg.Cache.URL)
		}

		if cfg.Cache.Version != "7" {
			t.Errorf("cache version = %s, want 7", cfg.Cache.Version)
		}

		if cfg.RateLimit.Limits.AnonymousStandard.Burst != 8 {
			t.Errorf("anonymous burst = %d, want 8", cfg.RateLimit.Limits.AnonymousStandard.Burst)
		}

		// Sections the file does not mention keep their defaults.
		if cfg.RateLimit.Limits.AuthenticatedStandard.RPS != 20 {
			t.Errorf("authenticated rps = %d, want default 20", cfg.RateLimit.Limits.AuthenticatedStandard.RPS)
		}

		if cfg.Upstream.UserAgent != "test-agent" {
			t.Errorf("user agent = %s", cfg.Upstream.UserAgent)
		}
	})

	t.Run("empty path loads defaults", func(t *testing.T) {
		cfg, err := LoadFromFile("")
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Errorf("port = %d, want default 7070", cfg.Server.Port)
		}
	})

	t.Run("environment variable expansion", func(t *testing.T) {
		os.Setenv("TEST_MDBLIST_KEY", "secret-key-123")
		defer os.Unsetenv("TEST_MDBLIST_KEY")

		content := `
ratings:
  mdblist_api_key: ${TEST_MDBLIST_KEY}
`
		path := createTempFile(t, content)
		defer os.Remove(path)

		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}

		if cfg.Ratings.MDBListAPIKey != "secret-key-123" {
			t.Errorf("mdblist_api_key = %s, want secret-key-123", cfg.Ratings.MDBListAPIKey)
		}
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := LoadFromFile("/nonexistent/path/config.yaml")
		if err == nil {
			t.Error("expected error for nonexistent file")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		content := `
server:
  port: [invalid
`
		path := createTempFile(t, content)
		defer os.Remove(path)

		_, err := LoadFromFile(path)
		if err == nil {
			t.Error("expected error for invalid yaml")
		}
	})
}

func TestEnvOverrides(t *testing.T) {
	setenv := func(t *testing.T, key, value string) {
		t.Helper()
		os.Setenv(key, value)
		t.Cleanup(func() { os.Unsetenv(key) })
	}

	t.Run("environment wins over file", func(t *testing.T) {
		setenv(t, "CINEMUX_PORT", "9091")
		setenv(t, "REDIS_URL", "redis://env-host:6379/1")
		setenv(t, "CACHE_VERSION", "42")
		setenv(t, "DISABLE_RAW_CACHE", "true")
		setenv(t, "CINEMUX_ADMIN_SECRET", "hunter2")
		setenv(t, "RATINGS_SERVICE_URL", "https://ratings.example.com")
		setenv(t, "RATE_LIMIT_ANON_RPS", "100")
		setenv(t, "RATE_LIMIT_AUTH_SEARCH_BURST", "77")

		content := `
server:
  port: 9090
cache:
  url: redis://file-host:6379/0
  version: "7"
`
		path := createTempFile(t, content)
		defer os.Remove(path)

		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}

		if cfg.Server.Port != 9091 {
			t.Errorf("port = %d, want env value 9091", cfg.Server.Port)
		}
		if cfg.Cache.URL != "redis://env-host:6379/1" {
			t.Errorf("cache url = %s, want env value", cfg.Cache.URL)
		}
		if cfg.Cache.Version != "42" {
			t.Errorf("cache version = %s, want 42", cfg.Cache.Version)
		}
		if !cfg.Cache.DisableRaw {
			t.Error("DISABLE_RAW_CACHE=true should disable raw caching")
		}
		if cfg.Admin.Secret != "hunter2" {
			t.Errorf("admin secret = %s", cfg.Admin.Secret)
		}
		if cfg.Ratings.ServiceURL != "https://ratings.example.com" {
			t.Errorf("ratings service url = %s", cfg.Ratings.ServiceURL)
		}
		if cfg.RateLimit.Limits.AnonymousStandard.RPS != 100 {
			t.Errorf("anonymous rps = %d, want 100", cfg.RateLimit.Limits.AnonymousStandard.RPS)
		}
		if cfg.RateLimit.Limits.AuthenticatedSearch.Burst != 77 {
			t.Errorf("authenticated search burst = %d, want 77", cfg.RateLimit.Limits.AuthenticatedSearch.Burst)
		}
	})

	t.Run("malformed numeric env is ignored", func(t *testing.T) {
		setenv(t, "CINEMUX_PORT", "not-a-port")

		cfg, err := LoadFromFile("")
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Errorf("port = %d, want default 7070", cfg.Server.Port)
		}
	})

	t.Run("empty env value does not clobber", func(t *testing.T) {
		setenv(t, "CACHE_VERSION", "")

		cfg, err := LoadFromFile("")
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}
		if cfg.Cache.Version != "1" {
			t.Errorf("cache version = %s, want default 1", cfg.Cache.Version)
		}
	})
}

func createTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}
