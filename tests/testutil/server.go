package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cinemux/cinemux/internal/api"
	"github.com/cinemux/cinemux/internal/cache"
	"github.com/cinemux/cinemux/internal/config"
	"github.com/cinemux/cinemux/internal/enrich"
	"github.com/cinemux/cinemux/internal/healthcheck"
	"github.com/cinemux/cinemux/internal/metrics"
	"github.com/cinemux/cinemux/internal/observability"
	"github.com/cinemux/cinemux/internal/ratelimit"
	"github.com/cinemux/cinemux/internal/rating"
	"github.com/cinemux/cinemux/internal/upstream"
)

// TestServer manages a cinemux server instance for testing. Each instance
// owns an embedded redis so tests start from an empty cache.
type TestServer struct {
	server   *http.Server
	listener net.Listener
	config   *config.Config
	baseURL  string
	logger   *slog.Logger
	redis    *miniredis.Miniredis
	client   *goredis.Client
	tier     *cache.Tier
	keys     *cache.KeyBuilder
}

// ServerOption configures the test server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	ratingsURL  string
	adminSecret string
	rateLimits  *ratelimit.Limits
	noLimits    bool
	noStore     bool
	configure   []func(*config.Config)
}

// WithRatingsService points the primary rating source at a mock service.
func WithRatingsService(url string) ServerOption {
	return func(o *serverOptions) {
		o.ratingsURL = url
	}
}

// WithAdminSecret protects the admin routes with basic auth.
func WithAdminSecret(secret string) ServerOption {
	return func(o *serverOptions) {
		o.adminSecret = secret
	}
}

// WithRateLimits enables admission control with the given budgets.
func WithRateLimits(limits ratelimit.Limits) ServerOption {
	return func(o *serverOptions) {
		o.rateLimits = &limits
	}
}

// WithoutRateLimits disables admission control entirely. The shared
// fixture server uses this so request-heavy tests never trip a budget.
func WithoutRateLimits() ServerOption {
	return func(o *serverOptions) {
		o.noLimits = true
	}
}

// WithoutStore starts the server with no cache store at all: every request
// bypasses the cache and the limiter fails open.
func WithoutStore() ServerOption {
	return func(o *serverOptions) {
		o.noStore = true
	}
}

// WithConfig applies an arbitrary config mutation before startup.
func WithConfig(fn func(*config.Config)) ServerOption {
	return func(o *serverOptions) {
		o.configure = append(o.configure, fn)
	}
}

// staticSource serves one fixed config snapshot.
type staticSource struct {
	cfg *config.Config
}

func (s staticSource) Get() *config.Config { return s.cfg }

// NewTestServer creates a new test server with the given options.
func NewTestServer(opts ...ServerOption) (*TestServer, error) {
	options := &serverOptions{}
	for _, opt := range opts {
		opt(options)
	}

	// Only log errors in tests.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	cfg := config.DefaultConfig()
	cfg.Server.Port = 0
	cfg.Ratings.ServiceURL = options.ratingsURL
	cfg.Admin.Secret = options.adminSecret
	if options.rateLimits != nil {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.Limits = *options.rateLimits
	}
	if options.noLimits {
		cfg.RateLimit.Enabled = false
	}
	for _, fn := range options.configure {
		fn(cfg)
	}

	var (
		mr          *miniredis.Miniredis
		redisClient *goredis.Client
		store       *cache.Store
	)
	if !options.noStore {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		redisClient = goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		store = cache.NewStoreWithClient(redisClient, cfg.Cache.Namespace)
	}

	tier := cache.NewTier(store, logger)
	keys := cache.NewKeyBuilder(cfg.Cache.Version)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(tier, keys, cfg.RateLimit.Limits, logger)
	}

	fetcher := upstream.New(upstream.Config{
		Timeout:      5 * time.Second,
		Attempts:     1,
		RetryBackoff: 10 * time.Millisecond,
	}, logger)

	// Only the primary rating source: the secondary sources need
	// credentials and would reach public APIs from the test run.
	sources := []rating.Source{
		rating.NewCached(rating.NewIMDB(cfg.Ratings.ServiceURL, fetcher), tier, keys, logger),
	}
	consolidator := rating.NewConsolidator(sources, tier, keys, rating.ConsolidatorConfig{
		Concurrency:    cfg.Ratings.Concurrency,
		FirstWaveDelay: 10 * time.Millisecond,
		WaveDelay:      10 * time.Millisecond,
	}, logger)

	handler := api.NewHandler(api.Deps{
		Config:   staticSource{cfg},
		Tier:     tier,
		Keys:     keys,
		Flight:   cache.NewFlight(tier),
		HotKeys:  cache.NewHotKeys(store, keys, logger),
		Limiter:  limiter,
		Fetcher:  fetcher,
		Enricher: enrich.New(consolidator, logger),
		Checker:  healthcheck.NewChecker(tier, cfg.Ratings.ServiceURL),
		Logger:   logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	var httpHandler http.Handler = mux
	httpHandler = metrics.Middleware(httpHandler)
	httpHandler = observability.RequestIDMiddleware(httpHandler)

	lc := net.ListenConfig{}
	listener, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		if mr != nil {
			mr.Close()
		}
		return nil, fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &TestServer{
		server:   server,
		listener: listener,
		config:   cfg,
		baseURL:  fmt.Sprintf("http://%s", listener.Addr().String()),
		logger:   logger,
		redis:    mr,
		client:   redisClient,
		tier:     tier,
		keys:     keys,
	}, nil
}

// Start starts the test server in a goroutine.
func (s *TestServer) Start() error {
	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
		}
	}()

	// Wait for server to be ready
	return s.waitForReady(5 * time.Second)
}

// Stop gracefully shuts down the test server and its embedded redis.
func (s *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)

	if s.client != nil {
		s.client.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
	return err
}

// URL returns the server's base URL.
func (s *TestServer) URL() string {
	return s.baseURL
}

// Client returns an HTTP client configured for the test server.
func (s *TestServer) Client() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
	}
}

// Config returns the server's configuration.
func (s *TestServer) Config() *config.Config {
	return s.config
}

// Tier returns the cache tier, letting outage tests toggle it.
func (s *TestServer) Tier() *cache.Tier {
	return s.tier
}

// Keys returns the cache key builder.
func (s *TestServer) Keys() *cache.KeyBuilder {
	return s.keys
}

// Redis returns the embedded redis, nil when started WithoutStore.
func (s *TestServer) Redis() *miniredis.Miniredis {
	return s.redis
}

func (s *TestServer) waitForReady(timeout time.Duration) error {
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(timeout)
	ctx := context.Background()

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/healthz", http.NoBody)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
