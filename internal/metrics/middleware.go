package metrics

import (
	"net/http"
	"strconv"
	"time"
)

// RecordCacheLookup records one cache lookup outcome.
func RecordCacheLookup(layer, result string) {
	CacheLookups.WithLabelValues(layer, result).Inc()
}

// RecordRateLimit records a limiter decision.
func RecordRateLimit(tier string, res string) {
	RateLimitDecisions.WithLabelValues(tier, res).Inc()
}

// RecordUpstreamFetch records an upstream fetch outcome with its latency.
func RecordUpstreamFetch(outcome string, latency time.Duration) {
	UpstreamFetches.WithLabelValues(outcome).Inc()
	UpstreamLatency.Observe(latency.Seconds())
}

// RecordProviderFetch records where a rating source answer came from.
func RecordProviderFetch(source, outcome string) {
	ProviderFetches.WithLabelValues(source, outcome).Inc()
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for streaming responses.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Middleware records request count and latency for every request, labeled
// by the mux route pattern so config blobs and item ids never become label
// values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(recorder.statusCode)).Inc()
		HTTPLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
