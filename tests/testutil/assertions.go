package testutil

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requestRecorder is satisfied by both mock servers.
type requestRecorder interface {
	GetRequests() []RecordedRequest
}

// AssertStatusCode asserts the HTTP response status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	assert.Equal(t, expected, resp.StatusCode, "unexpected status code")
}

// AssertContentType asserts the Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	assert.True(t, strings.HasPrefix(contentType, expected),
		"expected Content-Type to start with %q, got %q", expected, contentType)
}

// AssertJSONResponse asserts the response is JSON.
func AssertJSONResponse(t *testing.T, resp *http.Response) {
	t.Helper()
	AssertContentType(t, resp, "application/json")
}

// RequireStatusOK requires the response status to be 200 OK.
func RequireStatusOK(t *testing.T, resp *http.Response) {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode, "expected 200 OK")
}

// AssertCacheStatus asserts the X-Cache disposition header.
func AssertCacheStatus(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	assert.Equal(t, expected, resp.Header.Get("X-Cache"), "unexpected cache disposition")
}

// AssertRateLimitHeaders asserts the budget headers are present.
func AssertRateLimitHeaders(t *testing.T, resp *http.Response) {
	t.Helper()
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"), "X-RateLimit-Limit should be set")
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"), "X-RateLimit-Remaining should be set")
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"), "X-RateLimit-Reset should be set")
}

// AssertNoRateLimitHeaders asserts the budget headers are absent, as on
// cache hits and bypassed requests.
func AssertNoRateLimitHeaders(t *testing.T, resp *http.Response) {
	t.Helper()
	assert.Empty(t, resp.Header.Get("X-RateLimit-Limit"), "X-RateLimit-Limit should not be set")
	assert.Empty(t, resp.Header.Get("X-RateLimit-Remaining"), "X-RateLimit-Remaining should not be set")
}

// AssertRequestRecorded checks that a request was recorded by a mock server.
// Path matching is flexible - matches if the recorded path contains the expected path.
func AssertRequestRecorded(t *testing.T, mock requestRecorder, method, path string) {
	t.Helper()
	requests := mock.GetRequests()
	for _, req := range requests {
		if req.Method == method && (req.Path == path || strings.HasSuffix(req.Path, path)) {
			return
		}
	}
	t.Errorf("expected request %s %s to be recorded, got %d requests", method, path, len(requests))
}

// AssertNoRequests checks that no requests were recorded.
func AssertNoRequests(t *testing.T, mock requestRecorder) {
	t.Helper()
	requests := mock.GetRequests()
	assert.Empty(t, requests, "expected no requests, got %d", len(requests))
}

// AssertRequestCount checks the number of recorded requests.
func AssertRequestCount(t *testing.T, mock requestRecorder, expected int) {
	t.Helper()
	requests := mock.GetRequests()
	assert.Len(t, requests, expected, "unexpected request count")
}
