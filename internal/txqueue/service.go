// internal/txqueue/service.go
package txqueue

import (
	"context"
	"fmt"

	"github.com/appchainio/agentd/pkg/service"
)

// QueueService wraps the Queue as a Service.
type QueueService struct {
	queue  *Queue
	status service.Status
	cancel context.CancelFunc
}

// NewQueueService creates a new transaction queue service.
func NewQueueService(queue *Queue) *QueueService {
	return &QueueService{
		queue:  queue,
		status: service.StatusStopped,
	}
}

// Name returns the service name.
func (s *QueueService) Name() string {
	return "txqueue"
}

// Start launches the queue worker.
func (s *QueueService) Start(ctx context.Context) error {
	s.status = service.StatusStarting

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.queue.Start(workerCtx)

	s.status = service.StatusRunning
	return nil
}

// Stop cancels the worker and waits for it to drain.
func (s *QueueService) Stop(ctx context.Context) error {
	s.status = service.StatusStopping

	if s.cancel != nil {
		s.cancel()
		s.queue.Wait()
	}

	s.status = service.StatusStopped
	return nil
}

// Status returns the current service status.
func (s *QueueService) Status() service.Status {
	return s.status
}

// Health performs a health check.
func (s *QueueService) Health() error {
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running")
	}
	return nil
}

// Dependencies returns the services this service depends on.
func (s *QueueService) Dependencies() []string {
	return []string{}
}
