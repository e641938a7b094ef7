// Package main provides the bench mock upstream entry point.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cinemux/cinemux/bench/internal/mock"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	latency := flag.Duration("latency", 50*time.Millisecond, "Simulated upstream latency")
	items := flag.Int("items", 100, "Titles per catalog answer")
	errorRate := flag.Float64("error-rate", 0, "Probability of a 502 answer (0-1)")
	flag.Parse()

	server := mock.NewServer()
	server.Latency = *latency
	server.Items = *items
	server.ErrorRate = *errorRate

	addr := fmt.Sprintf(":%d", *port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down mock upstream...")
		httpServer.Close()
	}()

	log.Printf("Mock upstream starting on %s", addr)
	log.Printf("  Latency: %v, items: %d, error rate: %.2f", *latency, *items, *errorRate)
	log.Printf("  Endpoints:")
	log.Printf("    GET /manifest.json")
	log.Printf("    GET /catalog/{type}/{id}.json")
	log.Printf("    GET /meta/{type}/{id}.json")
	log.Printf("    GET /api/rating/{id}")
	log.Printf("    GET /health")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
