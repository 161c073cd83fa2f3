// Package metrics serves the Prometheus scrape endpoint and a health probe
// for the daemon.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/harun/sylva/internal/observability"
)

// Health is reported by /healthz. Healthy false yields a 503.
type Health struct {
	Healthy    bool           `json:"healthy"`
	Components map[string]any `json:"components,omitempty"`
}

// HealthFunc produces the current health snapshot.
type HealthFunc func() Health

// Config configures the metrics server.
type Config struct {
	Address string
	Version string
	Health  HealthFunc
	Logger  zerolog.Logger
}

// Server exposes /metrics and /healthz.
type Server struct {
	cfg      Config
	registry *prometheus.Registry
	logger   zerolog.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewServer builds a server. Component metrics come from the default
// registry; the server's own registry adds the build info gauge.
func NewServer(cfg Config) *Server {
	observability.EnsureRegistered()

	registry := prometheus.NewRegistry()
	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sylva_build_info",
			Help: "Build information, value is always 1",
		},
		[]string{"version"},
	)
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
	registry.MustRegister(buildInfo)

	return &Server{
		cfg:      cfg,
		registry: registry,
		logger:   cfg.Logger.With().Str("component", "metrics").Logger(),
	}
}

// Registry returns the server's own registry
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Handler returns the HTTP mux serving both endpoints.
func (s *Server) Handler() http.Handler {
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, s.registry}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := Health{Healthy: true}
	if s.cfg.Health != nil {
		health = s.cfg.Health()
	}

	w.Header().Set("Content-Type", "application/json")
	if !health.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode health response")
	}
}

// Listen binds the configured address. Call Serve afterwards.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// Addr returns the bound address, empty before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run listens if needed and serves until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	srv, ln := s.srv, s.listener
	s.mu.Unlock()

	s.logger.Info().Str("address", ln.Addr().String()).Msg("Metrics server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	s.logger.Info().Msg("Metrics server stopped")
	return nil
}
