// Package http exposes the service's operational endpoints and the built
// panel artifacts.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/epibel/covid-panel-etl/internal/export"
	"github.com/epibel/covid-panel-etl/internal/pipeline"
)

// BuildHolder hands out the most recent successful panel build.
type BuildHolder interface {
	Last() *pipeline.Build
	CheckReadiness(ctx context.Context) error
}

// Server exposes health, readiness, metrics, and artifact HTTP endpoints.
type Server struct {
	httpServer *http.Server
	holder     BuildHolder
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics,
// /panel.csv, and /geometry.geojson routes. The artifact routes return 503
// until the first build completes.
func NewServer(addr string, holder BuildHolder, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		holder: holder,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /panel.csv", s.handlePanelCSV)
	mux.HandleFunc("GET /geometry.geojson", s.handleGeoJSON)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.holder.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handlePanelCSV(w http.ResponseWriter, _ *http.Request) {
	build := s.holder.Last()
	if build == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no panel built yet"})
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("X-Build-Fingerprint", build.Fingerprint)
	if build.Stale {
		w.Header().Set("X-Build-Stale", "true")
	}
	if err := export.WritePanelCSV(w, build.Rows); err != nil {
		s.logger.Error("write panel csv response", "error", err)
	}
}

func (s *Server) handleGeoJSON(w http.ResponseWriter, _ *http.Request) {
	build := s.holder.Last()
	if build == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no panel built yet"})
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Build-Fingerprint", build.Fingerprint)
	if err := export.WriteGeoJSON(w, build.Geometry); err != nil {
		s.logger.Error("write geometry response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort health response
}
