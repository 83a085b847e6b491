package philipshue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"home-control/environment"
	"home-control/panel"
	"home-control/service"

	"golang.org/x/exp/slices"
)

// Register adds the Philips Hue binding to registry
func Register(registry *panel.Registry) error {
	return registry.Register(Identifier, NewBinding)
}

// Binding shows the lights of one descriptor on a panel and keeps them in
// sync with the light-state events of the server.
type Binding struct {
	label       string
	sender      panel.Sender
	unsubscribe func()

	mu     sync.Mutex
	lights []Light
}

// NewBinding fetches the lights named by the descriptor's options
func NewBinding(ctx context.Context, sender panel.Sender, descriptor environment.ServiceDescriptor) (panel.Binding, error) {
	options, err := ParseOptions(descriptor.Options)
	if err != nil {
		return nil, fmt.Errorf("invalid options for %s: %w", descriptor.Label, err)
	}

	var result LightsResult
	if err := sender.Send(ctx, command(CommandLights), LightsParams{Lights: options.Lights}, &result); err != nil {
		return nil, err
	}

	b := &Binding{
		label:  descriptor.Label,
		sender: sender,
		lights: result.Lights,
	}
	b.unsubscribe = sender.Subscribe(Identifier, b.handleEvent)
	return b, nil
}

func command(name string) string {
	return Identifier + service.CommandSeparator + name
}

func (b *Binding) handleEvent(event string, data json.RawMessage) {
	if event != EventLightState {
		return
	}
	var light Light
	if err := json.Unmarshal(data, &light); err != nil {
		slog.Warn("Invalid light state event", "err", err)
		return
	}
	b.update(light)
}

func (b *Binding) update(light Light) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i := slices.IndexFunc(b.lights, func(l Light) bool { return l.ID == light.ID }); i >= 0 {
		b.lights[i] = light
	}
}

func (b *Binding) Label() string {
	return b.label
}

func (b *Binding) Close() error {
	b.unsubscribe()
	return nil
}

// Lights returns the lights of this binding
func (b *Binding) Lights() []Light {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.lights)
}

func (b *Binding) light(id string) (Light, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := slices.IndexFunc(b.lights, func(l Light) bool { return l.ID == id })
	if i < 0 {
		return Light{}, fmt.Errorf("light %s is not part of %s", id, b.label)
	}
	return b.lights[i], nil
}

func (b *Binding) set(ctx context.Context, id string, state LightState) error {
	var light Light
	if err := b.sender.Send(ctx, command(CommandSetLight), SetLightParams{ID: id, LightState: state}, &light); err != nil {
		return err
	}
	b.update(light)
	return nil
}

// Toggle switches light id on or off
func (b *Binding) Toggle(ctx context.Context, id string) error {
	light, err := b.light(id)
	if err != nil {
		return err
	}
	on := !light.On
	return b.set(ctx, id, LightState{On: &on})
}

// SetBrightness changes the brightness of light id (1-254)
func (b *Binding) SetBrightness(ctx context.Context, id string, brightness int) error {
	if _, err := b.light(id); err != nil {
		return err
	}
	return b.set(ctx, id, LightState{Brightness: &brightness})
}

// String renders the lights on one line
func (b *Binding) String() string {
	lights := b.Lights()
	parts := make([]string, 0, len(lights))
	for _, l := range lights {
		state := "off"
		if l.On {
			state = fmt.Sprintf("on %d", l.Brightness)
		}
		parts = append(parts, fmt.Sprintf("[%s] %s: %s", l.ID, l.Name, state))
	}
	return fmt.Sprintf("%s (%s) %s", b.label, Identifier, strings.Join(parts, ", "))
}
