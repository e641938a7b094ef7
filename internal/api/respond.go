package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/cinemux/cinemux/internal/ratelimit"
	"github.com/cinemux/cinemux/pkg/errors"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRawJSON writes a pre-encoded JSON document.
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, err error) {
	pe := errors.From(err)
	writeJSON(w, pe.HTTPStatusCode(), ErrorResponse{
		Error: ErrorDetail{Message: pe.Message, Type: pe.Type},
	})
}

// setRateLimitHeaders advertises the admitted caller's remaining budget.
func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// writeRateLimited answers a rejected request. The flight leader carries
// the limiter's own result; coalesced waiters reconstruct the guidance
// from the shared error and the policy table.
func (h *Handler) writeRateLimited(w http.ResponseWriter, id ratelimit.Identity, tier string, res *ratelimit.Result, pe *errors.ProxyError) {
	retryAfter := pe.RetryAfter
	if retryAfter < 1 {
		retryAfter = 1
	}

	limit := 0
	resetAt := time.Now().Add(time.Duration(retryAfter) * time.Second)
	if res != nil {
		limit = res.Limit
		if res.RetryAfter > 0 {
			retryAfter = res.RetryAfter
		}
		if !res.ResetAt.IsZero() {
			resetAt = res.ResetAt
		}
	} else if h.limiter != nil {
		limit = h.limiter.PolicyFor(id, tier).Burst
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error: ErrorDetail{Message: pe.Message, Type: pe.Type},
	})
}
