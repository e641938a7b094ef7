// Package main provides the benchmark runner entry point.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/cinemux/cinemux/bench/internal/runner"
)

func main() {
	os.Exit(run())
}

func run() int {
	target := flag.String("target", "http://localhost:7070", "Proxy base URL")
	upstream := flag.String("upstream", "http://localhost:8080/manifest.json", "Upstream manifest URL to wrap")
	mediaType := flag.String("type", "movie", "Catalog media type")
	catalog := flag.String("catalog", "top", "Catalog id")
	path := flag.String("path", "", "Full request path, overrides the generated catalog path")
	requests := flag.Int("requests", 1000, "Total number of requests")
	concurrency := flag.Int("concurrency", 100, "Number of concurrent workers")
	name := flag.String("name", "benchmark", "Benchmark name")
	output := flag.String("output", "bench/results", "Output directory for results")
	flag.Parse()

	reqPath := *path
	if reqPath == "" {
		reqPath = fmt.Sprintf("/%s/catalog/%s/%s.json", buildBlob(*upstream), *mediaType, *catalog)
	}

	cfg := runner.Config{
		Target:      *target,
		Path:        reqPath,
		Requests:    *requests,
		Concurrency: *concurrency,
		Name:        *name,
	}

	log.Printf("Starting benchmark: %s", *name)
	log.Printf("  Target:      %s", *target)
	log.Printf("  Path:        %s", reqPath)
	log.Printf("  Requests:    %d", *requests)
	log.Printf("  Concurrency: %d", *concurrency)

	r := runner.NewRunner(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, runErr := r.Run(ctx)
	if runErr != nil {
		log.Printf("Benchmark failed: %v", runErr)
		return 1
	}

	// Print results
	r.PrintResult(result)

	// Save results
	if resultPath, err := r.SaveResult(result, *output); err != nil {
		log.Printf("Warning: failed to save results: %v", err)
	} else {
		log.Printf("Results saved to: %s", resultPath)
	}

	return 0
}

// buildBlob encodes the minimal installation config wrapping the given
// manifest URL, the same way the configure page would.
func buildBlob(manifestURL string) string {
	raw, _ := json.Marshal(map[string]string{"upstream": manifestURL}) //nolint:errcheck // static input
	return base64.RawURLEncoding.EncodeToString(raw)
}
