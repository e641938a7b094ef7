package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Cache Tier Gauges
// =============================================================================

var (
	// CacheTierEnabled reports whether the shared cache tier is currently
	// serving lookups (1) or bypassed (0).
	CacheTierEnabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_tier_enabled",
			Help:      "Whether the shared cache tier is enabled (1) or bypassed (0)",
		},
	)

	// CacheHitRate is the cumulative hit rate of the shared cache tier.
	CacheHitRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_hit_rate",
			Help:      "Cumulative cache tier hit rate (hits / lookups)",
		},
	)

	// CacheStoreErrors is the cumulative count of store operations that
	// failed and were served fail-open.
	CacheStoreErrors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_store_errors",
			Help:      "Cumulative count of cache store operations that failed",
		},
	)
)

// UpdateCacheTier refreshes the cache tier gauges from a stats snapshot.
// Callers run this on a timer rather than per request.
func UpdateCacheTier(enabled bool, hitRate float64, storeErrors int64) {
	if enabled {
		CacheTierEnabled.Set(1)
	} else {
		CacheTierEnabled.Set(0)
	}
	CacheHitRate.Set(hitRate)
	CacheStoreErrors.Set(float64(storeErrors))
}
