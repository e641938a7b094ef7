package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatusRecorderCapturesCode(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, statusCode: http.StatusOK}

	sr.WriteHeader(http.StatusTeapot)
	if sr.statusCode != http.StatusTeapot {
		t.Errorf("statusCode = %d, want %d", sr.statusCode, http.StatusTeapot)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("underlying code = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestStatusRecorderDefaultsToOK(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, statusCode: http.StatusOK}

	if _, err := sr.Write([]byte("ok")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if sr.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want %d", sr.statusCode, http.StatusOK)
	}
}

func TestMiddlewareLabelsByPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /probe/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	handler := Middleware(mux)

	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET /probe/{id}", "GET", "404"))

	req := httptest.NewRequest(http.MethodGet, "/probe/abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET /probe/{id}", "GET", "404"))
	if after-before != 1 {
		t.Errorf("request counter delta = %v, want 1", after-before)
	}
}

func TestMiddlewareUnmatchedRoute(t *testing.T) {
	mux := http.NewServeMux()
	handler := Middleware(mux)

	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("unmatched", "GET", "404"))

	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("unmatched", "GET", "404"))
	if after-before != 1 {
		t.Errorf("request counter delta = %v, want 1", after-before)
	}
}

func TestUpdateCacheTier(t *testing.T) {
	UpdateCacheTier(true, 0.75, 3)
	if got := testutil.ToFloat64(CacheTierEnabled); got != 1 {
		t.Errorf("enabled gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(CacheHitRate); got != 0.75 {
		t.Errorf("hit rate gauge = %v, want 0.75", got)
	}
	if got := testutil.ToFloat64(CacheStoreErrors); got != 3 {
		t.Errorf("error gauge = %v, want 3", got)
	}

	UpdateCacheTier(false, 0, 0)
	if got := testutil.ToFloat64(CacheTierEnabled); got != 0 {
		t.Errorf("enabled gauge = %v, want 0", got)
	}
}
