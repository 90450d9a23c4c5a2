// Package http serves the admin surface: health, live experiment state and
// Prometheus metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trustkv/pkg/server"
)

const (
	contentTypeJSON        = "application/json"
	defaultAddr            = "127.0.0.1:9879"
	defaultShutdownTimeout = time.Second * 5
)

type iStatusSource interface {
	Status() (server.Status, error)
}

// Server represents the admin HTTP server.
type Server struct {
	source     iStatusSource
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
	httpServer *http.Server
	URL        string
	addr       string
}

// NewServer creates a new admin server. A nil gatherer serves the default registry.
func NewServer(source iStatusSource, gatherer prometheus.Gatherer, addr string, logger *slog.Logger) *Server {
	if addr == "" {
		addr = defaultAddr
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		source:   source,
		gatherer: gatherer,
		logger:   logger.With("component", "admin"),
		addr:     addr,
	}
}

// Start binds the address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	s.URL = "http://" + ln.Addr().String()

	s.httpServer = &http.Server{
		Handler:           s.createRouter(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.logger.Info("HTTP server started", "addr", s.URL)
	return nil
}

// Stop stops the server
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
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/shards", s.handleShards)
		r.Get("/workers", s.handleWorkers)
	})

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

// status fetches the experiment state or writes the error response itself.
func (s *Server) status(w http.ResponseWriter) (server.Status, bool) {
	st, err := s.source.Status()
	switch {
	case errors.Is(err, server.ErrNoExperiment):
		s.writeJSON(w, http.StatusServiceUnavailable, NewErrorResponse(err.Error()))
		return st, false
	case err != nil:
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return st, false
	}
	return st, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if st, ok := s.status(w); ok {
		s.writeJSON(w, http.StatusOK, NewDataResponse(st))
	}
}

func (s *Server) handleShards(w http.ResponseWriter, r *http.Request) {
	if st, ok := s.status(w); ok {
		s.writeJSON(w, http.StatusOK, NewDataResponse(st.Shards))
	}
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if st, ok := s.status(w); ok {
		s.writeJSON(w, http.StatusOK, NewDataResponse(st.Workers))
	}
}
