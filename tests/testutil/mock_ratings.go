package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// defaultVotes backs scripted scores that never set an explicit vote count.
const defaultVotes = 250000

// MockRatings simulates the self-hosted ratings service the proxy
// consolidates from. Title and episode scores are scripted per test;
// unknown ids answer 404 the way the real service does.
type MockRatings struct {
	server   *httptest.Server
	requests []RecordedRequest
	mu       sync.Mutex

	scores     map[string]float64
	votes      map[string]int64
	latency    time.Duration
	failStatus int
	rebuilds   int
}

// NewMockRatings creates and starts a new mock ratings service. It ships
// with one scripted title so enrichment paths work out of the box.
func NewMockRatings() *MockRatings {
	m := &MockRatings{
		requests: make([]RecordedRequest, 0),
		scores:   defaultScores(),
		votes:    make(map[string]int64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/rating/{id}", m.handleTitle)
	mux.HandleFunc("GET /api/rating/{id}/season/{season}/episode/{episode}", m.handleEpisode)
	mux.HandleFunc("GET /health", m.handleHealth)
	mux.HandleFunc("POST /api/rebuild", m.handleRebuild)

	m.server = httptest.NewServer(mux)
	return m
}

func defaultScores() map[string]float64 {
	return map[string]float64{
		"tt0111161": 9.3,
	}
}

// URL returns the mock server's URL.
func (m *MockRatings) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRatings) Close() {
	m.server.Close()
}

// GetRequests returns all recorded requests.
func (m *MockRatings) GetRequests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]RecordedRequest, len(m.requests))
	copy(result, m.requests)
	return result
}

// Reset clears recorded requests and restores the default fixture.
func (m *MockRatings) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = m.requests[:0]
	m.scores = defaultScores()
	m.votes = make(map[string]int64)
	m.latency = 0
	m.failStatus = 0
	m.rebuilds = 0
}

// SetScore scripts a title score.
func (m *MockRatings) SetScore(id string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[id] = score
}

// SetEpisodeScore scripts an episode score.
func (m *MockRatings) SetEpisodeScore(id string, season, episode int, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[episodeKey(id, season, episode)] = score
}

// SetVotes scripts a title vote count.
func (m *MockRatings) SetVotes(id string, votes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes[id] = votes
}

// SetLatency sets the simulated latency for requests (thread-safe).
func (m *MockRatings) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// SetFailStatus makes every subsequent request, health probes included,
// answer the given status. Zero restores normal serving.
func (m *MockRatings) SetFailStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatus = status
}

// RatingCalls returns how many rating lookups were received.
func (m *MockRatings) RatingCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.requests {
		if strings.HasPrefix(req.Path, "/api/rating/") {
			n++
		}
	}
	return n
}

// RebuildCalls returns how many rebuild triggers were received.
func (m *MockRatings) RebuildCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuilds
}

func (m *MockRatings) intercept(w http.ResponseWriter, r *http.Request) bool {
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

func (m *MockRatings) handleTitle(w http.ResponseWriter, r *http.Request) {
	if !m.intercept(w, r) {
		return
	}
	m.writeRating(w, r, r.PathValue("id"))
}

func (m *MockRatings) handleEpisode(w http.ResponseWriter, r *http.Request) {
	if !m.intercept(w, r) {
		return
	}
	key := r.PathValue("id") + ":" + r.PathValue("season") + ":" + r.PathValue("episode")
	m.writeRating(w, r, key)
}

func (m *MockRatings) writeRating(w http.ResponseWriter, r *http.Request, key string) {
	m.mu.Lock()
	score, ok := m.scores[key]
	votes := m.votes[key]
	m.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if votes == 0 {
		votes = defaultVotes
	}

	writeMockJSON(w, map[string]any{
		"id":     key,
		"rating": score,
		"votes":  votes,
	})
}

func (m *MockRatings) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !m.intercept(w, r) {
		return
	}
	writeMockJSON(w, map[string]string{"status": "ok"})
}

func (m *MockRatings) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if !m.intercept(w, r) {
		return
	}
	m.mu.Lock()
	m.rebuilds++
	m.mu.Unlock()

	writeMockJSON(w, map[string]string{"status": "started"})
}

func episodeKey(id string, season, episode int) string {
	return fmt.Sprintf("%s:%d:%d", id, season, episode)
}
