// Package api implements the proxy's HTTP surface: the manifest, catalog,
// and meta pipeline that composes config decoding, admission control,
// cached single-flight computation, upstream fetching, and rating
// enrichment, plus the health and admin endpoints.
package api

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/cinemux/cinemux/internal/cache"
	"github.com/cinemux/cinemux/internal/config"
	"github.com/cinemux/cinemux/internal/enrich"
	"github.com/cinemux/cinemux/internal/healthcheck"
	"github.com/cinemux/cinemux/internal/observability"
	"github.com/cinemux/cinemux/internal/ratelimit"
	"github.com/cinemux/cinemux/internal/upstream"
)

// ConfigSource supplies the current server configuration. The config
// manager satisfies this; handlers read it per request so hot reloads
// take effect without a restart.
type ConfigSource interface {
	Get() *config.Config
}

// Deps carries the pipeline's collaborators.
type Deps struct {
	Config   ConfigSource
	Tier     *cache.Tier
	Keys     *cache.KeyBuilder
	Flight   *cache.Flight
	HotKeys  *cache.HotKeys
	Limiter  *ratelimit.Limiter // nil disables admission control
	Fetcher  *upstream.Fetcher
	Enricher *enrich.Enricher
	Checker  *healthcheck.Checker
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

// Handler serves the proxy's HTTP surface.
type Handler struct {
	cfg      ConfigSource
	tier     *cache.Tier
	keys     *cache.KeyBuilder
	flight   *cache.Flight
	hotkeys  *cache.HotKeys
	limiter  *ratelimit.Limiter
	fetcher  *upstream.Fetcher
	enricher *enrich.Enricher
	checker  *healthcheck.Checker
	tracer   trace.Tracer
	log      *slog.Logger

	// rebuildGate serializes ratings rebuild forwards.
	rebuildGate *semaphore.Weighted
}

// NewHandler creates the API handler from its dependencies.
func NewHandler(d Deps) *Handler {
	tracer := d.Tracer
	if tracer == nil {
		tracer = otel.Tracer(observability.TracerName)
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		cfg:         d.Config,
		tier:        d.Tier,
		keys:        d.Keys,
		flight:      d.Flight,
		hotkeys:     d.HotKeys,
		limiter:     d.Limiter,
		fetcher:     d.Fetcher,
		enricher:    d.Enricher,
		checker:     d.Checker,
		tracer:      tracer,
		log:         log,
		rebuildGate: semaphore.NewWeighted(1),
	}
}

// RegisterRoutes registers the data, health, and admin routes on mux.
// Admin routes sit behind the shared-secret gate.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("GET /healthz", h.Healthz)

	mux.HandleFunc("GET /{config}/manifest.json", h.Manifest)
	mux.HandleFunc("GET /{config}/catalog/{type}/{id}", h.Catalog)
	mux.HandleFunc("GET /{config}/catalog/{type}/{id}/{extra}", h.Catalog)
	mux.HandleFunc("GET /{config}/meta/{type}/{id}", h.Meta)

	admin := h.AdminAuth()
	mux.Handle("GET /api/hotkeys", admin(http.HandlerFunc(h.AdminHotKeys)))
	mux.Handle("GET /api/cache/stats", admin(http.HandlerFunc(h.AdminCacheStats)))
	mux.Handle("POST /api/cache/flush", admin(http.HandlerFunc(h.AdminCacheFlush)))
	mux.Handle("POST /api/ratings/rebuild", admin(http.HandlerFunc(h.AdminRatingsRebuild)))
}
