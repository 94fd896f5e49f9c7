// pkg/service/registry.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/appchainio/agentd/pkg/logging"
)

// Registry manages all services and their lifecycle.
type Registry struct {
	services map[string]Service
	mutex    sync.RWMutex
	logger   *logging.Logger

	// healthTimeout bounds how long StartAll waits for each service to
	// report healthy.
	healthTimeout time.Duration
}

// NewRegistry creates a new service registry.
func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{
		services:      make(map[string]Service),
		logger:        logger,
		healthTimeout: 30 * time.Second,
	}
}

// Register adds a service to the registry.
func (r *Registry) Register(service Service) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	name := service.Name()
	if _, exists := r.services[name]; exists {
		return fmt.Errorf("service %s is already registered", name)
	}

	r.services[name] = service
	r.logger.Info("service registered", "name", name)
	return nil
}

// Get returns a service by name.
func (r *Registry) Get(name string) (Service, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	service, exists := r.services[name]
	if !exists {
		return nil, fmt.Errorf("service %s not found", name)
	}

	return service, nil
}

// StartAll starts all services in dependency order.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	order, err := startOrder(r.services)
	if err != nil {
		return fmt.Errorf("dependency cycle detected: %w", err)
	}

	for _, name := range order {
		service := r.services[name]
		r.logger.Info("starting service", "name", name)

		if err := service.Start(ctx); err != nil {
			r.logger.Error("failed to start service", "name", name, "error", err)
			return fmt.Errorf("failed to start service %s: %w", name, err)
		}

		if err := r.waitForHealth(ctx, name); err != nil {
			return err
		}
	}

	return nil
}

// StopAll stops all services in reverse dependency order. Stop errors are
// logged and do not prevent the remaining services from stopping.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	order, err := startOrder(r.services)
	if err != nil {
		return fmt.Errorf("dependency cycle detected: %w", err)
	}

	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	for _, name := range order {
		service := r.services[name]
		r.logger.Info("stopping service", "name", name)

		if err := service.Stop(ctx); err != nil {
			r.logger.Error("error stopping service", "name", name, "error", err)
		}
	}

	return nil
}

// HealthCheck performs health checks on all services.
func (r *Registry) HealthCheck() map[string]error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	results := make(map[string]error)
	for name, service := range r.services {
		results[name] = service.Health()
	}

	return results
}

// waitForHealth waits for a service to become healthy.
func (r *Registry) waitForHealth(ctx context.Context, name string) error {
	service := r.services[name]

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	timeout := time.After(r.healthTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return fmt.Errorf("timeout waiting for service %s to become healthy", name)
		case <-ticker.C:
			if err := service.Health(); err == nil {
				return nil
			}
		}
	}
}

// startOrder performs a topological sort over the declared dependencies and
// returns the order services should start in. Dependencies that are not
// registered are assumed to be external and skipped.
func startOrder(services map[string]Service) ([]string, error) {
	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	order := make([]string, 0, len(services))

	var visit func(name string) error
	visit = func(name string) error {
		if inStack[name] {
			return fmt.Errorf("dependency cycle involving service %s", name)
		}
		if visited[name] {
			return nil
		}

		inStack[name] = true
		for _, dep := range services[name].Dependencies() {
			if _, exists := services[dep]; !exists {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		inStack[name] = false
		visited[name] = true

		order = append(order, name)
		return nil
	}

	for name := range services {
		if !visited[name] {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}

	return order, nil
}
