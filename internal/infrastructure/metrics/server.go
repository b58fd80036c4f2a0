package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/config"
)

const (
	defaultPath            = "/metrics"
	healthPath             = "/healthz"
	healthCheckTimeout     = 2 * time.Second
	readHeaderTimeout      = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// HealthCheck reports nil while a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Server serves a Registry and the health endpoint over HTTP.
type Server struct {
	cfg     config.MetricsConfig
	version string
	http    *http.Server

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewServer builds the scrape server. It does not listen until Run.
//
// Parameters:
//   - cfg: Listen address and scrape path
//   - reg: Collectors exposed on the scrape path
//   - version: Reported by the health endpoint
func NewServer(cfg config.MetricsConfig, reg *Registry, version string) *Server {
	path := cfg.Path
	if path == "" {
		path = defaultPath
	}

	s := &Server{
		cfg:     cfg,
		version: version,
		checks:  make(map[string]HealthCheck),
	}

	r := chi.NewRouter()
	r.Method(http.MethodGet, path, promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))
	r.Get(healthPath, s.handleHealth)

	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// AddHealthCheck registers a named check run on every health request.
// A later check with the same name replaces the earlier one.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// handleHealth runs every check and answers 503 if any fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	s.mu.RLock()
	checks := make(map[string]HealthCheck, len(s.checks))
	names := make([]string, 0, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names))
	status := http.StatusOK
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":  overall,
		"version": s.version,
		"checks":  results,
	})
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run listens until ctx is cancelled, then shuts down gracefully.
// A server with no listen address returns nil immediately.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Listen == "" {
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics: listen on %s: %w", s.cfg.Listen, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics: shutdown: %w", err)
	}
	return nil
}
