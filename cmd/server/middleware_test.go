package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cinemux/cinemux/internal/observability"
)

func TestBuildMiddleware_InjectsRequestID(t *testing.T) {
	var seenID string
	handler := buildMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = observability.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://localhost/abc/manifest.json", nil)
	req.Header.Set("Origin", "https://app.example")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if seenID == "" {
		t.Fatal("expected a request ID in the handler context")
	}
	if got := rr.Header().Get(observability.RequestIDHeader); got != seenID {
		t.Fatalf("response request id = %q, want %q", got, seenID)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin = %q, want %q", got, "*")
	}
}

func TestBuildMiddleware_PreflightNeverReachesHandler(t *testing.T) {
	called := false
	handler := buildMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "http://localhost/api/cache/flush", nil)
	req.Header.Set("Origin", "https://admin.example")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if called {
		t.Fatal("preflight must be answered by the CORS layer")
	}
}
