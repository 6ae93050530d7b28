package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"eventrelay/internal/chain"
	"eventrelay/internal/webhook"
)

// Server represents the HTTP API server
// Provides endpoints for Prometheus metrics, health checks, and runtime stats
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	registry   *webhook.Registry
	scheduler  *webhook.RetryScheduler
	pipeline   *chain.Pipeline
	port       int
}

// NewServer creates a new API server instance
// The registry, scheduler, and pipeline are read by the stats handler
func NewServer(port int, registry *webhook.Registry, scheduler *webhook.RetryScheduler, pipeline *chain.Pipeline) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		mux:       mux,
		registry:  registry,
		scheduler: scheduler,
		pipeline:  pipeline,
		port:      port,
	}

	// Register all HTTP routes
	s.registerRoutes()

	return s
}

// registerRoutes sets up all HTTP routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", s.handleMetrics())
	s.mux.HandleFunc("/stats", s.handleStats)
}

// Start starts the HTTP server in a goroutine
// Returns immediately after starting the server
func (s *Server) Start() error {
	go func() {
		slog.Info("API server starting",
			"port", s.port,
			"endpoints", []string{"/", "/health", "/metrics", "/stats"},
		)

		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server error", "error", err)
		}
	}()

	// Give the server a moment to start
	time.Sleep(100 * time.Millisecond)

	return nil
}

// Shutdown gracefully shuts down the HTTP server
// Waits for active connections to close or context to timeout
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down...")
	return s.httpServer.Shutdown(ctx)
}
