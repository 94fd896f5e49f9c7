package endpoint

import (
	"context"
	"fmt"

	"github.com/appchainio/agentd/pkg/logging"
	"github.com/appchainio/agentd/pkg/service"
)

// SocketService wraps the socket endpoint to implement the service.Service
// interface, allowing it to be managed by the service registry.
type SocketService struct {
	server *Server
	logger *logging.Logger
	status service.Status
}

// NewSocketService creates a registry-managed wrapper around the endpoint.
func NewSocketService(server *Server, logger *logging.Logger) *SocketService {
	return &SocketService{
		server: server,
		logger: logger.WithField("service", "endpoint"),
		status: service.StatusStopped,
	}
}

// Name returns the service name.
func (s *SocketService) Name() string {
	return "endpoint"
}

// Start binds the socket and begins serving connections.
func (s *SocketService) Start(ctx context.Context) error {
	s.status = service.StatusStarting
	s.logger.Info("starting socket endpoint")

	if err := s.server.Start(ctx); err != nil {
		s.status = service.StatusError
		return fmt.Errorf("failed to start socket endpoint: %w", err)
	}

	s.status = service.StatusRunning
	return nil
}

// Stop closes the listener, waits for in-flight connections, and removes
// the socket file.
func (s *SocketService) Stop(ctx context.Context) error {
	s.status = service.StatusStopping
	s.logger.Info("stopping socket endpoint")

	if err := s.server.Close(); err != nil {
		s.status = service.StatusError
		return fmt.Errorf("failed to stop socket endpoint: %w", err)
	}

	s.status = service.StatusStopped
	return nil
}

// Status returns the current service status.
func (s *SocketService) Status() service.Status {
	return s.status
}

// Health returns an error if the service is not healthy.
func (s *SocketService) Health() error {
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running, status: %s", s.status)
	}
	return nil
}

// Dependencies returns the services the endpoint depends on. Mutations are
// routed through the transaction queue, so it must be running first.
func (s *SocketService) Dependencies() []string {
	return []string{"txqueue"}
}
