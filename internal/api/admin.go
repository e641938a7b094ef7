package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/cinemux/cinemux/internal/cache"
	"github.com/cinemux/cinemux/internal/httputil"
	"github.com/cinemux/cinemux/pkg/errors"
)

const (
	defaultHotKeyWindow = 10
	maxHotKeyWindow     = 120
	defaultHotKeyLimit  = 20
	maxHotKeyLimit      = 100

	rebuildForwardTimeout = 60 * time.Second
)

// AdminAuth gates admin routes behind the shared secret using HTTP basic
// auth; the username is ignored. An empty secret leaves the routes open
// for local development.
func (h *Handler) AdminAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := h.cfg.Get().Admin.Secret
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, pass, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(secret)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="cinemux admin"`)
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{
					Error: ErrorDetail{Message: "admin credentials required", Type: "unauthorized"},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// hotKeysResponse lists the most requested cache keys in a recent window.
type hotKeysResponse struct {
	WindowMinutes int            `json:"window_minutes"`
	Limit         int            `json:"limit"`
	Keys          []cache.HotKey `json:"keys"`
}

// AdminHotKeys handles GET /api/hotkeys?window=&limit=.
func (h *Handler) AdminHotKeys(w http.ResponseWriter, r *http.Request) {
	window := queryInt(r, "window", defaultHotKeyWindow, maxHotKeyWindow)
	limit := queryInt(r, "limit", defaultHotKeyLimit, maxHotKeyLimit)

	keys, err := h.hotkeys.Hot(r.Context(), window, limit)
	if err != nil {
		writeError(w, errors.NewCacheUnavailableError("hot key accounting unavailable: "+err.Error()))
		return
	}
	if keys == nil {
		keys = []cache.HotKey{}
	}
	writeJSON(w, http.StatusOK, hotKeysResponse{WindowMinutes: window, Limit: limit, Keys: keys})
}

// cacheStatsResponse reports tier counters and the active key version.
type cacheStatsResponse struct {
	cache.TierStats
	Version string `json:"version"`
}

// AdminCacheStats handles GET /api/cache/stats.
func (h *Handler) AdminCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cacheStatsResponse{
		TierStats: h.tier.Stats(),
		Version:   h.keys.Version(),
	})
}

// AdminCacheFlush handles POST /api/cache/flush. It deletes every key
// under the current version prefix; limiter and hot-key state survive.
func (h *Handler) AdminCacheFlush(w http.ResponseWriter, r *http.Request) {
	flushed, err := h.tier.Flush(r.Context(), h.keys.Prefix()+"*")
	if err != nil {
		writeError(w, errors.NewCacheUnavailableError("cache flush failed: "+err.Error()))
		return
	}
	h.log.Info("cache flushed", "pattern", h.keys.Prefix()+"*", "deleted", flushed)
	writeJSON(w, http.StatusOK, map[string]int64{"flushed": flushed})
}

// AdminRatingsRebuild handles POST /api/ratings/rebuild by forwarding the
// trigger to the ratings service. Overlapping triggers are rejected.
func (h *Handler) AdminRatingsRebuild(w http.ResponseWriter, r *http.Request) {
	serviceURL := h.cfg.Get().Ratings.ServiceURL
	if serviceURL == "" {
		writeError(w, errors.NewProviderUnavailableError("ratings", "ratings service not configured"))
		return
	}

	if !h.rebuildGate.TryAcquire(1) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{Message: "rebuild already in progress", Type: "conflict"},
		})
		return
	}
	defer h.rebuildGate.Release(1)

	ctx, cancel := context.WithTimeout(r.Context(), rebuildForwardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, trimSlash(serviceURL)+"/api/rebuild", nil)
	if err != nil {
		writeError(w, errors.NewInternalError("build rebuild request: "+err.Error()))
		return
	}
	resp, err := h.rebuildClient().Do(req)
	if err != nil {
		writeError(w, errors.NewProviderUnavailableError("ratings", "rebuild trigger failed: "+err.Error()))
		return
	}
	httputil.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		writeError(w, errors.FromUpstreamStatus("ratings", resp.StatusCode, "rebuild trigger rejected"))
		return
	}

	h.log.Info("ratings rebuild triggered", "service", serviceURL)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) rebuildClient() *http.Client {
	return &http.Client{Timeout: rebuildForwardTimeout}
}

// queryInt parses a positive integer query parameter with a default and cap.
func queryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
