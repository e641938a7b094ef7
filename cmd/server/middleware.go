package main

import (
	"net/http"

	"github.com/cinemux/cinemux/internal/metrics"
	"github.com/cinemux/cinemux/internal/observability"
)

// buildMiddleware wraps the mux in the shared middleware chain. Order
// matters: CORS must answer preflights before anything else runs, and the
// request ID must exist before metrics and handlers log it.
func buildMiddleware(next http.Handler) http.Handler {
	handler := next
	handler = metrics.Middleware(handler)
	handler = observability.RequestIDMiddleware(handler)
	handler = corsMiddleware(handler)
	return handler
}
