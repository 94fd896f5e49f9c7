// Package api exposes the agent's operational HTTP surface: health checks
// and Prometheus metrics. It never exposes command dispatch; all domain
// traffic goes through the unix socket.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/appchainio/agentd/pkg/health"
	"github.com/appchainio/agentd/pkg/logging"
	"github.com/appchainio/agentd/pkg/metrics"
)

// Server serves the operational endpoints.
type Server struct {
	router *chi.Mux
	server *http.Server
	logger *logging.Logger
}

// NewServer creates an ops server bound to addr.
func NewServer(addr string, registry *health.Registry, m *metrics.Metrics, logger *logging.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", registry.Handler().ServeHTTP)
	r.Get("/metrics", m.Handler().ServeHTTP)

	return &Server{
		router: r,
		server: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.WithField("component", "api"),
	}
}

// Start begins serving in the background. It returns once the listener
// goroutine is launched; bind errors surface through the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
