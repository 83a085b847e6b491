// Package philipshue integrates Philips Hue lights: the server side service,
// the bridge client and the panel binding.
package philipshue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"home-control/service"

	"golang.org/x/exp/slices"
)

// Identifier of the service. Descriptors use it as their service kind.
const Identifier = "Philips Hue"

// Commands, relative to the service
const (
	CommandLights   = "lights"
	CommandSetLight = "set-light"
)

// EventLightState is broadcast after a light changed. Its payload is a Light.
const EventLightState = "light-state"

// LightsParams are the parameters of the lights command. An empty list means
// every light.
type LightsParams struct {
	Lights []string `json:"lights,omitempty"`
}

// LightsResult is the result of the lights command
type LightsResult struct {
	Lights []Light `json:"lights"`
}

// SetLightParams are the parameters of the set-light command
type SetLightParams struct {
	ID string `json:"id"`
	LightState
}

// Service is the Philips Hue service
type Service struct {
	conn *Connection

	mu          sync.RWMutex
	broadcaster service.Broadcaster
}

func NewService(conn *Connection) *Service {
	return &Service{conn: conn}
}

// SetBroadcaster sets where light changes are announced
func (s *Service) SetBroadcaster(b service.Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster = b
}

func (s *Service) Identifier() string {
	return Identifier
}

func (s *Service) Initialize(ctx context.Context) bool {
	if err := s.conn.Initialize(ctx); err != nil {
		slog.Error("Philips Hue initialization failed", "err", err)
		return false
	}
	slog.Info("Philips Hue initialized", "lights", len(s.conn.Lights()))
	return true
}

// Validate accepts options that match the schema and only name known lights
func (s *Service) Validate(options json.RawMessage) bool {
	opts, err := ParseOptions(options)
	if err != nil {
		slog.Warn("Invalid Philips Hue options", "err", err)
		return false
	}
	for _, id := range opts.Lights {
		if _, ok := s.conn.Light(id); !ok {
			slog.Warn("Philips Hue options name an unknown light", "light", id)
			return false
		}
	}
	return true
}

func (s *Service) HandleCommand(ctx context.Context, client service.Client, command string, params json.RawMessage) (any, bool, error) {
	switch command {
	case CommandLights:
		var p LightsParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, true, fmt.Errorf("%w: %v", service.ErrInvalidParameters, err)
			}
		}
		return LightsResult{Lights: s.lights(p.Lights)}, true, nil

	case CommandSetLight:
		var p SetLightParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, true, fmt.Errorf("%w: %v", service.ErrInvalidParameters, err)
		}
		if _, ok := s.conn.Light(p.ID); !ok {
			return nil, true, fmt.Errorf("%w: unknown light %q", service.ErrInvalidParameters, p.ID)
		}
		if p.Brightness != nil && (*p.Brightness < 1 || *p.Brightness > 254) {
			return nil, true, fmt.Errorf("%w: brightness must be between 1 and 254", service.ErrInvalidParameters)
		}

		light, err := s.conn.SetLightState(ctx, p.ID, p.LightState)
		if err != nil {
			return nil, true, err
		}
		s.broadcast(light)
		return light, true, nil
	}

	return nil, false, nil
}

func (s *Service) lights(ids []string) []Light {
	lights := s.conn.Lights()
	if len(ids) == 0 {
		return lights
	}
	return slices.DeleteFunc(lights, func(l Light) bool { return !slices.Contains(ids, l.ID) })
}

func (s *Service) broadcast(light Light) {
	s.mu.RLock()
	b := s.broadcaster
	s.mu.RUnlock()
	if b == nil {
		return
	}
	if err := b.Broadcast(Identifier, EventLightState, light); err != nil {
		slog.Warn("Error broadcasting light state", "light", light.ID, "err", err)
	}
}
