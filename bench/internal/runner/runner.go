// Package runner provides benchmark execution and result collection.
package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// Config holds benchmark configuration.
type Config struct {
	Target      string        // Proxy base URL
	Path        string        // Request path, e.g. /{blob}/catalog/movie/top.json
	Requests    int           // Total number of requests
	Concurrency int           // Number of concurrent workers
	Duration    time.Duration // Duration to run (0 = use Requests)
	Name        string        // Benchmark name
}

// Result holds benchmark results.
type Result struct {
	Name        string        `json:"name"`
	Target      string        `json:"target"`
	Path        string        `json:"path"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Duration    time.Duration `json:"duration"`
	Requests    int           `json:"requests"`
	Concurrency int           `json:"concurrency"`

	// Performance metrics
	TotalRequests   int64         `json:"total_requests"`
	SuccessRequests int64         `json:"success_requests"`
	FailedRequests  int64         `json:"failed_requests"`
	RateLimited     int64         `json:"rate_limited"`
	RPS             float64       `json:"rps"`
	LatencyMin      time.Duration `json:"latency_min"`
	LatencyMax      time.Duration `json:"latency_max"`
	LatencyMean     time.Duration `json:"latency_mean"`
	LatencyP50      time.Duration `json:"latency_p50"`
	LatencyP95      time.Duration `json:"latency_p95"`
	LatencyP99      time.Duration `json:"latency_p99"`

	// Cache disposition, from the X-Cache response header
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	CacheBypasses int64   `json:"cache_bypasses"`
	HitRate       float64 `json:"hit_rate"`

	// All latencies for percentile calculation
	Latencies []time.Duration `json:"-"`
}

// Runner executes benchmarks.
type Runner struct {
	client *http.Client
	config Config
}

// NewRunner creates a new benchmark runner.
func NewRunner(cfg Config) *Runner {
	return &Runner{
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.Concurrency * 2,
				MaxIdleConnsPerHost: cfg.Concurrency * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		config: cfg,
	}
}

// Run executes the benchmark and returns results.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	result := &Result{
		Name:        r.config.Name,
		Target:      r.config.Target,
		Path:        r.config.Path,
		StartTime:   time.Now(),
		Requests:    r.config.Requests,
		Concurrency: r.config.Concurrency,
		Latencies:   make([]time.Duration, 0, r.config.Requests),
	}

	var (
		successCount atomic.Int64
		failedCount  atomic.Int64
		limitedCount atomic.Int64
		hitCount     atomic.Int64
		missCount    atomic.Int64
		bypassCount  atomic.Int64
		latencies    = make(chan time.Duration, r.config.Requests)
		wg           sync.WaitGroup
	)

	// Worker function
	worker := func(requests <-chan struct{}) {
		defer wg.Done()
		for range requests {
			start := time.Now()
			disposition, err := r.sendRequest(ctx)
			elapsed := time.Since(start)

			switch {
			case err == errRateLimited:
				limitedCount.Add(1)
			case err != nil:
				failedCount.Add(1)
			default:
				successCount.Add(1)
				latencies <- elapsed
				switch disposition {
				case "hit":
					hitCount.Add(1)
				case "miss":
					missCount.Add(1)
				case "bypass":
					bypassCount.Add(1)
				}
			}
		}
	}

	// Create request channel
	requests := make(chan struct{}, r.config.Requests)

	// Start workers
	for i := 0; i < r.config.Concurrency; i++ {
		wg.Add(1)
		go worker(requests)
	}

	// Send requests
sendLoop:
	for i := 0; i < r.config.Requests; i++ {
		select {
		case requests <- struct{}{}:
		case <-ctx.Done():
			break sendLoop
		}
	}
	close(requests)

	// Wait for workers
	wg.Wait()
	close(latencies)

	// Collect latencies
	for lat := range latencies {
		result.Latencies = append(result.Latencies, lat)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.SuccessRequests = successCount.Load()
	result.FailedRequests = failedCount.Load()
	result.RateLimited = limitedCount.Load()
	result.TotalRequests = result.SuccessRequests + result.FailedRequests + result.RateLimited
	result.CacheHits = hitCount.Load()
	result.CacheMisses = missCount.Load()
	result.CacheBypasses = bypassCount.Load()

	// Calculate metrics
	r.calculateMetrics(result)

	return result, nil
}

// errRateLimited marks 429 answers so they count separately from failures.
var errRateLimited = fmt.Errorf("rate limited")

func (r *Runner) sendRequest(ctx context.Context) (string, error) {
	url := r.config.Target + r.config.Path

	req, err := http.NewRequestWithContext(ctx, "GET", url, http.NoBody)
	if err != nil {
		return "", err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	// Read response body to completion
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", errRateLimited
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return resp.Header.Get("X-Cache"), nil
}

func (r *Runner) calculateMetrics(result *Result) {
	if answered := result.CacheHits + result.CacheMisses; answered > 0 {
		result.HitRate = float64(result.CacheHits) / float64(answered)
	}

	if len(result.Latencies) == 0 {
		return
	}

	// Sort latencies for percentile calculation
	sort.Slice(result.Latencies, func(i, j int) bool {
		return result.Latencies[i] < result.Latencies[j]
	})

	// Calculate basic stats
	result.LatencyMin = result.Latencies[0]
	result.LatencyMax = result.Latencies[len(result.Latencies)-1]

	var total time.Duration
	for _, lat := range result.Latencies {
		total += lat
	}
	result.LatencyMean = total / time.Duration(len(result.Latencies))

	// Calculate percentiles
	result.LatencyP50 = percentile(result.Latencies, 50)
	result.LatencyP95 = percentile(result.Latencies, 95)
	result.LatencyP99 = percentile(result.Latencies, 99)

	// Calculate RPS
	if result.Duration > 0 {
		result.RPS = float64(result.SuccessRequests) / result.Duration.Seconds()
	}
}

func percentile(latencies []time.Duration, p int) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	idx := (len(latencies) * p) / 100
	if idx >= len(latencies) {
		idx = len(latencies) - 1
	}
	return latencies[idx]
}

// PrintResult prints the result in a human-readable format.
func (r *Runner) PrintResult(result *Result) {
	fmt.Println("\n========================================")
	fmt.Printf("Benchmark Results: %s\n", result.Name)
	fmt.Println("========================================")
	fmt.Printf("Target:       %s\n", result.Target)
	fmt.Printf("Path:         %s\n", result.Path)
	fmt.Printf("Duration:     %v\n", result.Duration.Round(time.Millisecond))
	fmt.Printf("Concurrency:  %d\n", result.Concurrency)
	fmt.Println()
	fmt.Println("Requests:")
	fmt.Printf("  Total:      %d\n", result.TotalRequests)
	fmt.Printf("  Success:    %d\n", result.SuccessRequests)
	fmt.Printf("  Failed:     %d\n", result.FailedRequests)
	fmt.Printf("  Limited:    %d\n", result.RateLimited)
	fmt.Printf("  RPS:        %.2f\n", result.RPS)
	fmt.Println()
	fmt.Println("Cache:")
	fmt.Printf("  Hits:       %d\n", result.CacheHits)
	fmt.Printf("  Misses:     %d\n", result.CacheMisses)
	fmt.Printf("  Bypasses:   %d\n", result.CacheBypasses)
	fmt.Printf("  Hit rate:   %.2f%%\n", result.HitRate*100)
	fmt.Println()
	fmt.Println("Latency:")
	fmt.Printf("  Min:        %v\n", result.LatencyMin.Round(time.Microsecond))
	fmt.Printf("  Max:        %v\n", result.LatencyMax.Round(time.Microsecond))
	fmt.Printf("  Mean:       %v\n", result.LatencyMean.Round(time.Microsecond))
	fmt.Printf("  P50:        %v\n", result.LatencyP50.Round(time.Microsecond))
	fmt.Printf("  P95:        %v\n", result.LatencyP95.Round(time.Microsecond))
	fmt.Printf("  P99:        %v\n", result.LatencyP99.Round(time.Microsecond))
	fmt.Println("========================================")
}

// SaveResult saves the result to a JSON file under dir.
func (r *Runner) SaveResult(result *Result, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.json", result.Name, result.StartTime.Format("20060102_150405"))
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}
	return path, nil
}
