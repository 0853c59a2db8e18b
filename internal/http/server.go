package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"translog/pkg/translog"
)

const (
	contentTypeJSON        = "application/json"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = time.Second * 5
)

type iTranslog interface {
	Stats() translog.Stats
	Generations() []translog.GenerationInfo
	Sync() error
	RollGeneration() error
	TrimUnreferencedReaders() error
}

type iMetricsSource interface {
	Snapshot() map[string]int64
}

// Server exposes translog stats and admin operations over HTTP.
type Server struct {
	log        iTranslog
	metrics    iMetricsSource
	httpServer *http.Server
	URL        string
	addr       string
}

// NewServer creates a new server instance.
func NewServer(log iTranslog, metrics iMetricsSource, port string) *Server {
	if port == "" {
		port = defaultHTTPPort
	}
	return &Server{
		log:     log,
		metrics: metrics,
		URL:     "http://localhost:" + port,
		addr:    ":" + port,
	}
}

// Start starts the server.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

// Stop stops the server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/v1/stats", s.handleStats)
	r.Get("/v1/generations", s.handleGenerations)
	r.Post("/v1/flush", s.handleFlush)
	r.Post("/v1/roll", s.handleRoll)
	r.Post("/v1/trim", s.handleTrim)

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.writeJSON(w, http.StatusOK, map[string]int64{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.log.Stats())
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.log.Generations())
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.log.Sync(); err != nil {
		slog.Error("flush failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleRoll(w http.ResponseWriter, r *http.Request) {
	if err := s.log.RollGeneration(); err != nil {
		slog.Error("rollover failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleTrim(w http.ResponseWriter, r *http.Request) {
	if err := s.log.TrimUnreferencedReaders(); err != nil {
		slog.Error("trim failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}
