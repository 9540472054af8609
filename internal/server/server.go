// Package server exposes the operational HTTP surface: the Prometheus scrape
// endpoint, a small JSON API, and a WebSocket feed for the monitor TUI.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/careflow/akimon/internal/config"
	"github.com/careflow/akimon/internal/metrics"
)

// Server is the HTTP server that serves /metrics, the REST API, and the
// WebSocket endpoint.
type Server struct {
	collector *metrics.Collector
	registry  *metrics.Registry
	cfg       *config.Config
	logger    zerolog.Logger
	hub       *Hub
	srv       *http.Server
}

// New creates a new Server.
func New(collector *metrics.Collector, registry *metrics.Registry, cfg *config.Config, logger zerolog.Logger) *Server {
	hub := newHub(collector, logger)
	return &Server{
		collector: collector,
		registry:  registry,
		cfg:       cfg,
		logger:    logger.With().Str("component", "http-server").Logger(),
		hub:       hub,
	}
}

// Start begins serving on the given port. It blocks until the context is
// cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	h := &handlers{collector: s.collector, cfg: s.cfg}

	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry.Gatherer(), promhttp.HandlerOpts{}))

	// API routes.
	mux.HandleFunc("GET /api/v1/stats", h.stats)
	mux.HandleFunc("GET /api/v1/config", h.configHandler)
	mux.HandleFunc("GET /api/v1/logs", h.logs)
	mux.HandleFunc("/api/v1/ws", s.hub.handleWS)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}

	// Start WebSocket hub.
	go s.hub.start(ctx)

	s.logger.Info().Int("port", port).Msg("starting HTTP server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.srv.Close()
	case err := <-errCh:
		return err
	}
}

// StartBackground starts the server in a goroutine (non-blocking).
func (s *Server) StartBackground(ctx context.Context, port int) {
	go func() {
		if err := s.Start(ctx, port); err != nil {
			s.logger.Err(err).Msg("http server error")
		}
	}()
}
