package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"home-control/environment"
)

// CommandSeparator separates the service identifier from the command name in
// service-scoped commands, e.g. "Philips Hue/lights".
const CommandSeparator = "/"

// Manager owns the registered services.
type Manager struct {
	mu       sync.RWMutex
	services []Service
	byID     map[string]Service
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		byID: make(map[string]Service),
	}
}

// AddService registers and initializes svc. A failed initialization leaves
// the service unregistered and must abort startup.
func (m *Manager) AddService(ctx context.Context, svc Service) error {
	id := svc.Identifier()

	m.mu.RLock()
	_, exists := m.byID[id]
	m.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateService, id)
	}

	slog.Info("Initializing service", "service", id)
	if !svc.Initialize(ctx) {
		return &InitializationError{Identifier: id}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateService, id)
	}
	m.services = append(m.services, svc)
	m.byID[id] = svc
	return nil
}

// Service returns the service registered under id.
func (m *Manager) Service(id string) (Service, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.byID[id]
	return svc, ok
}

// Services returns the registered services in registration order.
func (m *Manager) Services() []Service {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Service, len(m.services))
	copy(result, m.services)
	return result
}

// ValidateEnvironment checks every descriptor of env against its service.
// All descriptors are checked, in environment order, so the returned
// ValidationError lists every failure.
func (m *Manager) ValidateEnvironment(env *environment.Environment) error {
	var failures []DescriptorFailure

	for _, placed := range env.Descriptors() {
		descriptor := placed.Descriptor
		failure := DescriptorFailure{
			Room:    placed.Room,
			Index:   placed.Index,
			Label:   descriptor.Label,
			Service: descriptor.Service,
		}

		svc, ok := m.Service(descriptor.Service)
		if !ok {
			failure.Reason = "unknown service"
			failures = append(failures, failure)
			continue
		}
		if !svc.Validate(descriptor.Options) {
			failure.Reason = "options rejected by service"
			failures = append(failures, failure)
		}
	}

	if len(failures) > 0 {
		return &ValidationError{Failures: failures}
	}
	return nil
}

// DispatchCommand routes "<identifier>/<command>" to the named service.
// handled is false when no service claims the command.
func (m *Manager) DispatchCommand(ctx context.Context, client Client, name string, params json.RawMessage) (result any, handled bool, err error) {
	id, command, found := strings.Cut(name, CommandSeparator)
	if !found || command == "" {
		return nil, false, nil
	}

	svc, ok := m.Service(id)
	if !ok {
		return nil, false, nil
	}

	handler, ok := svc.(CommandHandler)
	if !ok {
		return nil, false, nil
	}

	return handler.HandleCommand(ctx, client, command, params)
}
