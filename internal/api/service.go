package api

import (
	"context"
	"fmt"

	"github.com/appchainio/agentd/pkg/logging"
	"github.com/appchainio/agentd/pkg/service"
)

// OpsService wraps the ops HTTP server to implement the service.Service
// interface.
type OpsService struct {
	server *Server
	logger *logging.Logger
	status service.Status
	errCh  <-chan error
}

// NewOpsService creates a registry-managed wrapper around the ops server.
func NewOpsService(server *Server, logger *logging.Logger) *OpsService {
	return &OpsService{
		server: server,
		logger: logger.WithField("service", "api"),
		status: service.StatusStopped,
	}
}

// Name returns the service name.
func (s *OpsService) Name() string {
	return "api"
}

// Start launches the HTTP listener.
func (s *OpsService) Start(ctx context.Context) error {
	s.status = service.StatusStarting
	s.logger.Info("starting ops server")
	s.errCh = s.server.Start()
	s.status = service.StatusRunning
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *OpsService) Stop(ctx context.Context) error {
	s.status = service.StatusStopping
	s.logger.Info("stopping ops server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.status = service.StatusError
		return fmt.Errorf("failed to stop ops server: %w", err)
	}

	s.status = service.StatusStopped
	return nil
}

// Status returns the current service status.
func (s *OpsService) Status() service.Status {
	return s.status
}

// Health returns an error if the listener has failed.
func (s *OpsService) Health() error {
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running, status: %s", s.status)
	}
	select {
	case err, ok := <-s.errCh:
		if ok && err != nil {
			return fmt.Errorf("ops server failed: %w", err)
		}
	default:
	}
	return nil
}

// Dependencies returns the services the ops server depends on.
func (s *OpsService) Dependencies() []string {
	return nil
}
