// Package main is the entry point for the cinemux proxy server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

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

const version = "1.0.0"

// gaugeInterval paces the cache tier gauge refresh.
const gaugeInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfgManager, err := config.NewManager(*configPath, slog.Default())
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting cinemux proxy", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	tracerProvider, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Protocol:    cfg.Tracing.Protocol,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown error", "error", err)
		}
	}()

	// The proxy serves without a store: every request becomes a cache
	// bypass and the rate limiter fails open.
	var store *cache.Store
	if cfg.Cache.URL != "" {
		store, err = cache.NewStore(cache.StoreConfig{
			URL:       cfg.Cache.URL,
			Namespace: cfg.Cache.Namespace,
		})
		if err != nil {
			logger.Warn("cache store unavailable, serving without cache", "error", err)
			store = nil
		}
	} else {
		logger.Warn("no cache url configured, serving without cache")
	}

	tier := cache.NewTier(store, logger)
	tier.CheckEvictionPolicy(ctx)
	keys := cache.NewKeyBuilder(cfg.Cache.Version)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(tier, keys, cfg.RateLimit.Limits, logger)
		logger.Info("rate limiting enabled",
			"anonymous_burst", cfg.RateLimit.Limits.AnonymousStandard.Burst,
			"search_burst", cfg.RateLimit.Limits.AnonymousSearch.Burst)
	}

	fetcher := upstream.New(upstream.Config{
		Timeout:           cfg.Upstream.Timeout,
		Attempts:          cfg.Upstream.Attempts,
		RetryBackoff:      cfg.Upstream.RetryBackoff,
		UserAgent:         cfg.Upstream.UserAgent,
		RequestsPerSecond: cfg.Upstream.RequestsPerSecond,
	}, logger)

	consolidator := buildConsolidator(cfg, tier, keys, fetcher, logger)
	enricher := enrich.New(consolidator, logger)
	checker := healthcheck.NewChecker(tier, cfg.Ratings.ServiceURL)

	handler := api.NewHandler(api.Deps{
		Config:   cfgManager,
		Tier:     tier,
		Keys:     keys,
		Flight:   cache.NewFlight(tier),
		HotKeys:  cache.NewHotKeys(store, keys, logger),
		Limiter:  limiter,
		Fetcher:  fetcher,
		Enricher: enricher,
		Checker:  checker,
		Tracer:   tracerProvider.Tracer(),
		Logger:   logger,
	})

	mux := buildMux(cfg, handler)

	go gaugeLoop(ctx, tier)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      buildMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	cfgManager.Close()
	logger.Info("server stopped")
}

// buildLogger constructs the process logger. Redaction keeps provider API
// keys and user config blobs out of the log stream.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return observability.NewLogger(observability.LoggerConfig{
		Level:      level,
		Output:     os.Stdout,
		JSONFormat: strings.ToLower(cfg.Format) != "text",
	}, observability.NewRedactor()).Slog()
}

// buildConsolidator wires the rating sources. Sources without credentials
// stay registered and answer nothing, so a partially configured deployment
// still consolidates what it can.
func buildConsolidator(cfg *config.Config, tier *cache.Tier, keys *cache.KeyBuilder, fetcher *upstream.Fetcher, logger *slog.Logger) *rating.Consolidator {
	sources := []rating.Source{
		rating.NewCached(rating.NewIMDB(cfg.Ratings.ServiceURL, fetcher), tier, keys, logger),
		rating.NewCached(rating.NewTMDB("", cfg.Ratings.TMDBAPIKey, fetcher), tier, keys, logger),
		rating.NewCached(rating.NewMDBList("", cfg.Ratings.MDBListAPIKey, fetcher), tier, keys, logger),
		rating.NewCached(rating.NewAniList(cfg.Ratings.AniListEndpoint), tier, keys, logger),
	}

	return rating.NewConsolidator(sources, tier, keys, rating.ConsolidatorConfig{
		Concurrency:    cfg.Ratings.Concurrency,
		FirstWaveDelay: cfg.Ratings.FirstWaveDelay,
		WaveDelay:      cfg.Ratings.WaveDelay,
	}, logger)
}

// gaugeLoop publishes tier counters until the context ends.
func gaugeLoop(ctx context.Context, tier *cache.Tier) {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := tier.Stats()
			metrics.UpdateCacheTier(stats.Enabled, stats.HitRate, stats.Errors)
		}
	}
}
