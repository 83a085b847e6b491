package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"home-control/environment"
	"home-control/service"
)

// CommandReloadEnvironment asks the server to reload its environment file.
const CommandReloadEnvironment = "server-reload-environment"

// ErrUnhandled is returned by HandleCommand when no component claims a command.
var ErrUnhandled = errors.New("unhandled command")

// ReloadResult is the result of the server-reload-environment command.
type ReloadResult struct {
	Reloaded bool   `json:"reloaded"`
	Reason   string `json:"reason,omitempty"`
}

// Options configure a Server.
type Options struct {
	// Path of the environment configuration file
	EnvironmentFile string
	// Version reported to panels
	Version string
}

// Server owns the environment and the services, and routes commands between them.
type Server struct {
	options     Options
	environment atomic.Pointer[environment.Environment]
	services    *service.Manager
	reloadMu    sync.Mutex
	startedAt   time.Time
}

// NewServer creates a server with an empty environment
func NewServer(options Options) *Server {
	s := &Server{
		options:   options,
		services:  service.NewManager(),
		startedAt: time.Now(),
	}
	s.environment.Store(environment.Empty())
	return s
}

// Initialize adds every service in order, then loads the environment. Any
// failure is fatal: the server must not start with a partial service set or
// without an environment.
func (s *Server) Initialize(ctx context.Context, services ...service.Service) error {
	for _, svc := range services {
		if err := s.services.AddService(ctx, svc); err != nil {
			return err
		}
	}

	if err := s.ReloadEnvironment(); err != nil {
		return fmt.Errorf("unable to load the home configuration, aborting: %w", err)
	}
	return nil
}

// Environment returns the environment currently served
func (s *Server) Environment() *environment.Environment {
	return s.environment.Load()
}

// Services returns the service manager
func (s *Server) Services() *service.Manager {
	return s.services
}

// StartedAt returns the time the server was created
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}

// ReloadEnvironment reads and validates the environment file and swaps it in.
// On failure the current environment stays in place. Reloads never overlap.
func (s *Server) ReloadEnvironment() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	env, err := environment.FromFile(s.options.EnvironmentFile)
	if err != nil {
		slog.Error("Environment reload failed", "file", s.options.EnvironmentFile, "err", err)
		return err
	}

	if err := s.services.ValidateEnvironment(env); err != nil {
		var validationErr *service.ValidationError
		if errors.As(err, &validationErr) {
			slog.Error("Environment rejected by services", "file", s.options.EnvironmentFile,
				"failures", len(validationErr.Failures), "first", validationErr.First().String())
		} else {
			slog.Error("Environment rejected by services", "file", s.options.EnvironmentFile, "err", err)
		}
		return err
	}

	s.environment.Store(env)
	slog.Info("Environment loaded", "file", s.options.EnvironmentFile, "rooms", len(env.Rooms()))
	return nil
}

// HandleCommand routes one command: the environment first, then the services,
// then the server's own utility commands. ErrUnhandled is returned when
// nothing claims it.
func (s *Server) HandleCommand(ctx context.Context, client service.Client, name string, params json.RawMessage) (any, error) {
	env := s.environment.Load()

	if result, handled, err := env.DispatchCommand(name, params); handled {
		return result, err
	}

	if result, handled, err := s.services.DispatchCommand(ctx, client, name, params); handled {
		return result, err
	}

	switch name {
	case CommandReloadEnvironment:
		if err := s.ReloadEnvironment(); err != nil {
			return ReloadResult{Reloaded: false, Reason: err.Error()}, nil
		}
		return ReloadResult{Reloaded: true}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnhandled, name)
}
