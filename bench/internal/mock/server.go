// Package mock provides a synthetic upstream for benchmarking. One
// process serves both surfaces the proxy talks to: a catalog addon and a
// ratings service, so a bench run needs no real deployments.
package mock

import (
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// Server is a mock upstream addon plus ratings service.
type Server struct {
	// Latency simulates upstream processing time.
	Latency time.Duration

	// Items is the number of titles in every catalog answer.
	Items int

	// ErrorRate is the probability of returning a 502 (0.0 to 1.0).
	ErrorRate float64

	// RequestCount tracks total requests handled.
	RequestCount atomic.Int64
}

// NewServer creates a new mock server with default settings.
func NewServer() *Server {
	return &Server{
		Latency: 50 * time.Millisecond,
		Items:   100,
	}
}

// Handler returns an http.Handler for the mock server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/manifest.json", s.handleManifest)
	mux.HandleFunc("/catalog/", s.handleCatalog)
	mux.HandleFunc("/meta/", s.handleMeta)
	mux.HandleFunc("/api/rating/", s.handleRating)
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

// intercept applies the latency and error knobs. It reports whether the
// request was already answered.
func (s *Server) intercept(w http.ResponseWriter) bool {
	s.RequestCount.Add(1)

	if s.Latency > 0 {
		time.Sleep(s.Latency)
	}
	if s.ErrorRate > 0 && rand.Float64() < s.ErrorRate {
		http.Error(w, "simulated upstream failure", http.StatusBadGateway)
		return false
	}
	return true
}

func (s *Server) handleManifest(w http.ResponseWriter, _ *http.Request) {
	if !s.intercept(w) {
		return
	}

	writeJSON(w, map[string]any{
		"id":        "org.bench.catalog",
		"version":   "1.0.0",
		"name":      "Bench Catalog",
		"resources": []string{"catalog", "meta"},
		"types":     []string{"movie"},
		"catalogs": []map[string]any{
			{"type": "movie", "id": "top", "name": "Top"},
		},
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	if !s.intercept(w) {
		return
	}

	metas := make([]map[string]any, s.Items)
	for i := range metas {
		metas[i] = titleDoc(i)
	}
	writeJSON(w, map[string]any{"metas": metas})
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	if !s.intercept(w) {
		return
	}

	// Path shape: /meta/{type}/{id}.json
	id := strings.TrimSuffix(r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:], ".json")
	idx := 0
	fmt.Sscanf(id, "tt%d", &idx) //nolint:errcheck // unknown ids fall back to title zero
	writeJSON(w, map[string]any{"meta": titleDoc(idx)})
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	if !s.intercept(w) {
		return
	}

	// Path shape: /api/rating/{id}[/season/{s}/episode/{e}]
	rest := strings.TrimPrefix(r.URL.Path, "/api/rating/")
	id := rest
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		id = rest[:i]
	}

	writeJSON(w, map[string]any{
		"id":     id,
		"rating": ratingFor(id),
		"votes":  50000,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status":        "ok",
		"request_count": s.RequestCount.Load(),
	})
}

// titleDoc builds a deterministic synthetic title.
func titleDoc(i int) map[string]any {
	id := fmt.Sprintf("tt%07d", i+1)
	return map[string]any{
		"id":          id,
		"type":        "movie",
		"name":        fmt.Sprintf("Bench Title %d", i+1),
		"description": "Synthetic title for load testing.",
	}
}

// ratingFor derives a stable score in [5.0, 9.4] from the id, so repeat
// runs see identical answers.
func ratingFor(id string) float64 {
	var sum int
	for _, c := range id {
		sum += int(c)
	}
	return 5.0 + float64(sum%45)/10.0
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// Stats returns server statistics.
func (s *Server) Stats() map[string]any {
	return map[string]any{
		"request_count": s.RequestCount.Load(),
		"latency_ms":    s.Latency.Milliseconds(),
		"items":         s.Items,
	}
}
