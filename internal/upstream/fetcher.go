// Package upstream fetches documents from the wrapped catalog providers
// with bounded retries. Client errors (4xx) never retry; server errors,
// timeouts, and transport failures retry with linear backoff.
package upstream

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/cinemux/cinemux/internal/httputil"
	"github.com/cinemux/cinemux/pkg/errors"
)

// Config holds fetcher settings.
type Config struct {
	Timeout      time.Duration `yaml:"timeout"`
	Attempts     int           `yaml:"attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	UserAgent    string        `yaml:"user_agent"`

	// RequestsPerSecond smooths outbound traffic per fetcher. Zero means
	// unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// DefaultConfig returns the shipped fetcher settings.
func DefaultConfig() Config {
	return Config{
		Timeout:      20 * time.Second,
		Attempts:     3,
		RetryBackoff: time.Second,
		UserAgent:    "cinemux/1.0",
	}
}

// Fetcher issues GET requests with retry, timeout, and an optional
// outbound rate cap. Safe for concurrent use.
type Fetcher struct {
	client  *http.Client
	cfg     Config
	log     *slog.Logger
	limiter *rate.Limiter
}

func New(cfg Config, log *slog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "cinemux/1.0"
	}

	f := &Fetcher{
		// No cookie jar: requests carry no state between calls.
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		log:    log,
	}
	if cfg.RequestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}
	return f
}

// Get fetches a URL, retrying transient failures up to the configured
// attempt count. Backoff before attempt n+1 is n x RetryBackoff.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	host := hostOf(rawURL)

	var lastErr error
	for attempt := 1; attempt <= f.cfg.Attempts; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, errors.NewUpstreamTimeoutError(host, "cancelled while pacing outbound request")
			}
		}

		data, err := f.doOnce(ctx, rawURL, host)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			return nil, err
		}
		if attempt == f.cfg.Attempts {
			break
		}

		backoff := time.Duration(attempt) * f.cfg.RetryBackoff
		f.log.Debug("upstream fetch failed, backing off",
			"url", rawURL, "attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return nil, errors.NewUpstreamTimeoutError(host, "cancelled during retry backoff")
		case <-time.After(backoff):
		}
	}

	return nil, lastErr
}

func (f *Fetcher) doOnce(ctx context.Context, rawURL, host string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.NewInternalError(fmt.Sprintf("build upstream request: %v", err))
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, errors.NewUpstreamTimeoutError(host, "upstream request timed out")
		}
		// Transport-level failures are as transient as 5xx responses.
		return nil, errors.NewUpstreamServerError(host, 0, fmt.Sprintf("upstream unreachable: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httputil.DrainAndClose(resp.Body, 4096)
		return nil, errors.FromUpstreamStatus(host, resp.StatusCode,
			fmt.Sprintf("upstream returned %d", resp.StatusCode))
	}

	body, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		if stderrors.Is(err, httputil.ErrResponseBodyTooLarge) {
			return nil, errors.NewUpstreamServerError(host, resp.StatusCode, "upstream document exceeds size cap")
		}
		if isTimeout(err) {
			return nil, errors.NewUpstreamTimeoutError(host, "upstream response timed out")
		}
		return nil, errors.NewUpstreamServerError(host, 0, fmt.Sprintf("reading upstream body: %v", err))
	}
	return body, nil
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return stderrors.As(err, &ne) && ne.Timeout()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
