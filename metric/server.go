package metric

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/airdeck/skybridge/component"
)

// Server serves the registry over HTTP at /metrics. It implements the
// component lifecycle so the engine can manage it like any other part.
type Server struct {
	addr     string
	registry *Registry
	logger   *slog.Logger

	mu        sync.Mutex
	server    *http.Server
	state     component.State
	startedAt time.Time
}

// NewServer creates a metrics server listening on addr (e.g. ":9090").
func NewServer(addr string, registry *Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		registry: registry,
		logger:   logger.With("component", "metrics-server"),
	}
}

// Initialize validates the server configuration.
func (s *Server) Initialize() error {
	if s.addr == "" {
		return fmt.Errorf("metrics server: empty listen address")
	}
	if s.registry == nil {
		return fmt.Errorf("metrics server: nil registry")
	}
	s.mu.Lock()
	s.state = component.StateInitialized
	s.mu.Unlock()
	return nil
}

// Health reports the server's lifecycle state.
func (s *Server) Health() component.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := component.HealthStatus{
		State:     s.state,
		Healthy:   s.state == component.StateStarted && s.server != nil,
		LastCheck: time.Now(),
	}
	if s.state == component.StateStarted {
		h.Uptime = time.Since(s.startedAt)
	}
	return h
}

// Start begins serving /metrics in a background goroutine.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return nil // already running, idempotent
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry.Prometheus(), promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.state = component.StateStarted
	s.startedAt = time.Now()

	go func() {
		s.logger.Info("metrics server listening", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}

var (
	_ component.Lifecycle      = (*Server)(nil)
	_ component.HealthReporter = (*Server)(nil)
)

// Stop shuts the server down gracefully within the timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	if server != nil {
		s.state = component.StateStopped
	}
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}
