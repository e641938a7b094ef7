// Package metrics provides Prometheus metrics collection for the proxy.
// It tracks request counts, latencies, cache effectiveness, rate-limit
// decisions, upstream health, and rating provider behavior.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "cinemux"
)

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 1.5, 2.0, 2.5, 3.0, 4.0, 5.0,
	7.5, 10.0, 15.0, 20.0, 30.0, 60.0,
}

// =============================================================================
// Request Metrics
// =============================================================================

var (
	// HTTPRequests counts data-surface requests by route and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "method", "status_code"},
	)

	// HTTPLatency tracks end-to-end request latency per route.
	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_latency_seconds",
			Help:      "End-to-end HTTP request latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"route"},
	)
)

// =============================================================================
// Cache Metrics
// =============================================================================

var (
	// CacheLookups counts cache lookups by layer and result.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by layer (formatted, raw, source, consolidated) and result (hit, miss, bypass)",
		},
		[]string{"layer", "result"},
	)

	// FlightsCoalesced counts requests that joined an in-flight compute
	// instead of starting their own.
	FlightsCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flights_coalesced_total",
			Help:      "Requests coalesced onto an in-flight computation",
		},
	)
)

// =============================================================================
// Rate Limit Metrics
// =============================================================================

var (
	// RateLimitDecisions counts limiter outcomes.
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limiter outcomes (allowed, rejected, bypassed) by tier",
		},
		[]string{"tier", "outcome"},
	)
)

// =============================================================================
// Upstream Metrics
// =============================================================================

var (
	// UpstreamFetches counts upstream document fetches by outcome.
	UpstreamFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_fetches_total",
			Help:      "Upstream fetches by outcome (ok, client_error, server_error, timeout)",
		},
		[]string{"outcome"},
	)

	// UpstreamLatency tracks upstream fetch latency.
	UpstreamLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_fetch_latency_seconds",
			Help:      "Upstream fetch latency in seconds",
			Buckets:   LatencyBuckets,
		},
	)
)

// =============================================================================
// Rating Provider Metrics
// =============================================================================

var (
	// ProviderFetches counts rating source lookups by origin of the answer.
	ProviderFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fetches_total",
			Help:      "Rating provider lookups by source and outcome (memory, shared, fetched, negative, error)",
		},
		[]string{"source", "outcome"},
	)

	// ProviderLatency tracks provider HTTP latency per source.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_fetch_latency_seconds",
			Help:      "Rating provider fetch latency in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"source"},
	)

	// ConsolidatedBands counts consolidated scores by band.
	ConsolidatedBands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidated_bands_total",
			Help:      "Consolidated ratings computed, by color band",
		},
		[]string{"band"},
	)
)

// =============================================================================
// Enrichment Metrics
// =============================================================================

var (
	// EnrichedItems counts catalog/meta items that received an injection.
	EnrichedItems = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enriched_items_total",
			Help:      "Items whose title or description was rewritten",
		},
	)

	// EnrichLatency tracks whole-document enrichment latency.
	EnrichLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrich_latency_seconds",
			Help:      "Document enrichment latency in seconds",
			Buckets:   LatencyBuckets,
		},
	)
)
