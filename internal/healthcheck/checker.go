// Package healthcheck probes the proxy's dependencies on demand.
package healthcheck

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cinemux/cinemux/internal/cache"
	"github.com/cinemux/cinemux/internal/httputil"
)

const defaultCheckTimeout = 5 * time.Second

// Check statuses. A deliberately absent dependency reports disabled,
// which still counts as healthy.
const (
	StatusUp       = "up"
	StatusDown     = "down"
	StatusDisabled = "disabled"
)

// Check is the probe outcome for one dependency.
type Check struct {
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// Report aggregates all dependency checks. Status is healthy unless any
// check is down.
type Report struct {
	Status     string           `json:"status"`
	Checks     map[string]Check `json:"checks"`
	DurationMS float64          `json:"duration_ms"`
}

// Healthy reports whether the probed instance can serve traffic.
func (r Report) Healthy() bool {
	return r.Status == "healthy"
}

// Checker probes the cache store and the ratings provider.
type Checker struct {
	tier        *cache.Tier
	providerURL string
	client      *http.Client
	timeout     time.Duration
}

// NewChecker builds a checker. An empty providerURL skips the provider
// probe and reports it disabled.
func NewChecker(tier *cache.Tier, providerURL string) *Checker {
	return &Checker{
		tier:        tier,
		providerURL: trimSlash(providerURL),
		client:      &http.Client{Timeout: defaultCheckTimeout},
		timeout:     defaultCheckTimeout,
	}
}

// Run probes all dependencies concurrently and aggregates the outcome.
func (c *Checker) Run(ctx context.Context) Report {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	checks := make(map[string]Check, 2)
	var mu sync.Mutex
	var wg sync.WaitGroup

	probe := func(name string, fn func(context.Context) Check) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := fn(ctx)
			mu.Lock()
			checks[name] = res
			mu.Unlock()
		}()
	}

	probe("cache", c.checkCache)
	probe("provider", c.checkProvider)
	wg.Wait()

	status := "healthy"
	for _, chk := range checks {
		if chk.Status == StatusDown {
			status = "degraded"
			break
		}
	}

	return Report{
		Status:     status,
		Checks:     checks,
		DurationMS: roundMS(time.Since(start)),
	}
}

func (c *Checker) checkCache(ctx context.Context) Check {
	if c.tier == nil || c.tier.Store() == nil {
		return Check{Status: StatusDisabled}
	}
	if !c.tier.Enabled() {
		return Check{Status: StatusDisabled}
	}
	start := time.Now()
	if err := c.tier.Ping(ctx); err != nil {
		return Check{Status: StatusDown, LatencyMS: roundMS(time.Since(start)), Error: err.Error()}
	}
	return Check{Status: StatusUp, LatencyMS: roundMS(time.Since(start))}
}

func (c *Checker) checkProvider(ctx context.Context) Check {
	if c.providerURL == "" {
		return Check{Status: StatusDisabled}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.providerURL+"/health", nil)
	if err != nil {
		return Check{Status: StatusDown, Error: err.Error()}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Check{Status: StatusDown, LatencyMS: roundMS(time.Since(start)), Error: err.Error()}
	}
	httputil.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Check{
			Status:    StatusDown,
			LatencyMS: roundMS(time.Since(start)),
			Error:     "provider health returned " + resp.Status,
		}
	}
	return Check{Status: StatusUp, LatencyMS: roundMS(time.Since(start))}
}

func roundMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
