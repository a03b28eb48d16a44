package service

import (
	"context"
	"fmt"

	"github.com/perchcam/perchcam/internal/logger"
)

// Service is a long-running component managed by the Manager.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// Manager starts services in registration order and stops them in reverse,
// so dependencies outlive their dependents.
type Manager struct {
	services []Service
	logger   *logger.Logger
}

// NewManager creates a service manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{logger: log.Named("service")}
}

// Register adds a service. Registration order is start order.
func (m *Manager) Register(s Service) {
	m.services = append(m.services, s)
}

// StartAll starts every registered service. On failure the already started
// services are stopped in reverse before the error is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	for i, s := range m.services {
		m.logger.Info("Starting service", "name", s.Name())
		if err := s.Start(ctx); err != nil {
			m.stopFrom(ctx, i-1)
			return fmt.Errorf("failed to start %s: %w", s.Name(), err)
		}
	}
	return nil
}

// StopAll stops every service in reverse registration order. Stop errors
// are logged, not propagated, so one failing service never blocks the
// shutdown of the rest.
func (m *Manager) StopAll(ctx context.Context) {
	m.stopFrom(ctx, len(m.services)-1)
}

func (m *Manager) stopFrom(ctx context.Context, idx int) {
	for i := idx; i >= 0; i-- {
		s := m.services[i]
		m.logger.Info("Stopping service", "name", s.Name())
		if err := s.Stop(ctx); err != nil {
			m.logger.Error("Service stop failed", "name", s.Name(), "error", err)
		}
	}
}
