// Package testutil provides testing utilities for E2E tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// RecordedRequest stores information about a received request.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Time   time.Time
}

// MockUpstream simulates a wrapped catalog addon. It serves a manifest, a
// fixed three-title movie catalog under any catalog id, and per-title meta
// documents, and records every request it receives.
type MockUpstream struct {
	server   *httptest.Server
	requests []RecordedRequest
	mu       sync.Mutex

	latency    time.Duration
	failStatus int
}

// mockTitles is the catalog fixture. The first title carries a description
// so description-injection paths have something to append to.
var mockTitles = []map[string]any{
	{
		"id":          "tt0111161",
		"type":        "movie",
		"name":        "The Shawshank Redemption",
		"description": "Two imprisoned men bond over a number of years.",
		"poster":      "https://img.example.com/tt0111161.jpg",
	},
	{
		"id":     "tt0068646",
		"type":   "movie",
		"name":   "The Godfather",
		"poster": "https://img.example.com/tt0068646.jpg",
	},
	{
		"id":   "local:42",
		"type": "movie",
		"name": "Home Movie",
	},
}

// NewMockUpstream creates and starts a new mock upstream addon.
func NewMockUpstream() *MockUpstream {
	m := &MockUpstream{
		requests: make([]RecordedRequest, 0),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/manifest.json", m.handleManifest)
	mux.HandleFunc("/catalog/", m.handleCatalog)
	mux.HandleFunc("/meta/", m.handleMeta)

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the mock server's URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// ManifestURL returns the manifest URL users would paste into an installer.
func (m *MockUpstream) ManifestURL() string {
	return m.server.URL + "/manifest.json"
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// GetRequests returns all recorded requests.
func (m *MockUpstream) GetRequests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]RecordedRequest, len(m.requests))
	copy(result, m.requests)
	return result
}

// Reset clears all recorded requests and resets configured behavior.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = m.requests[:0]
	m.latency = 0
	m.failStatus = 0
}

// SetLatency sets the simulated latency for requests (thread-safe).
func (m *MockUpstream) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// SetFailStatus makes every subsequent request answer the given status.
// Zero restores normal serving.
func (m *MockUpstream) SetFailStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatus = status
}

// ManifestCalls returns how many manifest fetches were received.
func (m *MockUpstream) ManifestCalls() int {
	return m.countPrefix("/manifest.json")
}

// CatalogCalls returns how many catalog fetches were received.
func (m *MockUpstream) CatalogCalls() int {
	return m.countPrefix("/catalog/")
}

// MetaCalls returns how many meta fetches were received.
func (m *MockUpstream) MetaCalls() int {
	return m.countPrefix("/meta/")
}

func (m *MockUpstream) countPrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.requests {
		if strings.HasPrefix(req.Path, prefix) {
			n++
		}
	}
	return n
}

// intercept records the request and applies latency and failure knobs.
// It returns false when the request was already answered.
func (m *MockUpstream) intercept(w http.ResponseWriter, r *http.Request) bool {
	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Time:   time.Now(),
	})
	latency := m.latency
	failStatus := m.failStatus
	m.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	if failStatus > 0 {
		http.Error(w, http.StatusText(failStatus), failStatus)
		return false
	}
	return true
}

func (m *MockUpstream) handleManifest(w http.ResponseWriter, r *http.Request) {
	if !m.intercept(w, r) {
		return
	}

	writeMockJSON(w, map[string]any{
		"id":        "org.example.catalog",
		"version":   "1.2.0",
		"name":      "Example Catalog",
		"resources": []string{"catalog", "meta"},
		"types":     []string{"movie", "series"},
		"catalogs": []map[string]any{
			{"type": "movie", "id": "top", "name": "Top Movies"},
		},
	})
}

func (m *MockUpstream) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if !m.intercept(w, r) {
		return
	}

	writeMockJSON(w, map[string]any{"metas": mockTitles})
}

func (m *MockUpstream) handleMeta(w http.ResponseWriter, r *http.Request) {
	if !m.intercept(w, r) {
		return
	}

	// Path shape: /meta/{type}/{id}.json
	id := strings.TrimSuffix(path.Base(r.URL.Path), ".json")
	for _, title := range mockTitles {
		if title["id"] == id {
			writeMockJSON(w, map[string]any{"meta": title})
			return
		}
	}
	http.NotFound(w, r)
}

func writeMockJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}
