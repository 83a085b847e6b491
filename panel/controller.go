package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"home-control/client"
	"home-control/environment"

	"golang.org/x/exp/slices"
)

// State is the configuration state of a Controller
type State int

const (
	StateUninitialized State = iota
	StateAwaitingRoomSelection
	StateServicesBound
	// StateFatal is terminal
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateAwaitingRoomSelection:
		return "AwaitingRoomSelection"
	case StateServicesBound:
		return "ServicesBound"
	case StateFatal:
		return "Fatal"
	}
	return "Unknown"
}

// Controller binds the services of the selected room to a Surface, and
// rebuilds them every time the connection is (re)established.
type Controller struct {
	conn     Connection
	surface  Surface
	registry *Registry
	manual   chan struct{}

	mu       sync.Mutex
	state    State
	room     string
	bindings []Binding

	// runMu orders surface updates of a run against disconnects
	runMu      sync.Mutex
	generation uint64
	cancelRun  context.CancelFunc
}

// errStaleRun ends a configuration run that a disconnect made obsolete
var errStaleRun = errors.New("configuration run superseded by a disconnect")

// NewController creates a controller. Run must be called to start it.
func NewController(conn Connection, surface Surface, registry *Registry) *Controller {
	return &Controller{
		conn:     conn,
		surface:  surface,
		registry: registry,
		manual:   make(chan struct{}, 1),
	}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room returns the selected room, "" when none was selected yet
func (c *Controller) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Bindings returns the labels of the current bindings, in order
func (c *Controller) Bindings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	labels := make([]string, 0, len(c.bindings))
	for _, b := range c.bindings {
		labels = append(labels, b.Label())
	}
	return labels
}

// RequestConfiguration asks for a configuration run with forced room
// selection. It is ignored while a run is in flight.
func (c *Controller) RequestConfiguration() {
	select {
	case c.manual <- struct{}{}:
	default:
	}
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFatal {
		c.state = state
	}
}

func (c *Controller) isFatal() bool {
	return c.State() == StateFatal
}

// Run consumes connection events and configuration requests until ctx is done
// or the event channel is closed. At most one configuration run is in flight;
// a connect event arriving during a run queues a single rerun.
func (c *Controller) Run(ctx context.Context) error {
	c.surface.SetInterfaceEnabled(false)
	c.surface.ShowNotConnected()

	done := make(chan struct{})
	running := false
	rerun := false

	start := func(manual bool) {
		running = true
		runCtx, gen := c.beginRun(ctx)
		go func() {
			defer func() { done <- struct{}{} }()
			err := c.displayConfiguration(runCtx, gen, manual)
			c.endRun(gen)
			if err != nil {
				slog.Warn("Panel configuration did not complete", "err", err)
			}
		}()
	}

	defer func() {
		if running {
			<-done
		}
		c.closeBindings()
	}()

	events := c.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-events:
			if !ok {
				return nil
			}
			if c.isFatal() {
				continue
			}
			switch event.Type {
			case client.EventConnect:
				if running {
					rerun = true
				} else {
					start(false)
				}
			case client.EventDisconnect:
				c.onDisconnected()
			}

		case <-c.manual:
			if running || c.isFatal() {
				slog.Debug("Configuration request ignored", "running", running)
				continue
			}
			start(true)

		case <-done:
			running = false
			if rerun && !c.isFatal() {
				rerun = false
				start(false)
			}
		}
	}
}

// beginRun starts a new run generation with a context that a disconnect cancels
func (c *Controller) beginRun(ctx context.Context) (context.Context, uint64) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	runCtx, cancel := context.WithCancel(ctx)
	c.generation++
	c.cancelRun = cancel
	return runCtx, c.generation
}

func (c *Controller) endRun(gen uint64) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.generation == gen && c.cancelRun != nil {
		c.cancelRun()
		c.cancelRun = nil
	}
}

// ifCurrent calls fn unless a disconnect superseded run gen. Disconnects wait
// for fn to return.
func (c *Controller) ifCurrent(gen uint64, fn func()) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.generation != gen {
		return errStaleRun
	}
	fn()
	return nil
}

// onDisconnected hides the interface whatever the state, and stops the run in flight
func (c *Controller) onDisconnected() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.generation++
	if c.cancelRun != nil {
		c.cancelRun()
		c.cancelRun = nil
	}
	c.surface.SetInterfaceEnabled(false)
	c.surface.ShowNotConnected()
	c.setState(StateUninitialized)
}

// displayConfiguration fetches the rooms, resolves the room (asking the user
// when needed), then replaces the bindings with those of the room's services.
// Once run gen is superseded it returns errStaleRun without touching the surface.
func (c *Controller) displayConfiguration(ctx context.Context, gen uint64, manual bool) error {
	var rooms environment.RoomsResult
	if err := c.conn.Send(ctx, environment.CommandRooms, nil, &rooms); err != nil {
		return c.abort(gen, err)
	}

	if err := c.ifCurrent(gen, func() {
		c.surface.HideNotConnected()
		c.surface.SetInterfaceEnabled(false)
	}); err != nil {
		return err
	}

	sorted := slices.Clone(rooms.Rooms)
	slices.Sort(sorted)

	room := c.Room()
	if room == "" || !slices.Contains(sorted, room) || manual {
		if err := c.ifCurrent(gen, func() { c.setState(StateAwaitingRoomSelection) }); err != nil {
			return err
		}
		selected, err := c.surface.SelectRoom(ctx, sorted, room, c.conn.DebugValues())
		if err != nil {
			return c.abort(gen, err)
		}
		if !slices.Contains(sorted, selected) {
			return c.abort(gen, &UnknownRoomError{Room: selected})
		}
		// the choice is kept even when a disconnect ends this run
		c.mu.Lock()
		c.room = selected
		c.mu.Unlock()
		room = selected
		slog.Info("Room selected", "room", room)
	}

	var services environment.ServicesResult
	if err := c.conn.Send(ctx, environment.CommandServices, environment.ServicesParams{Room: room}, &services); err != nil {
		return c.abort(gen, err)
	}

	if err := c.ifCurrent(gen, func() {
		c.closeBindings()
		c.surface.Clear()
		c.surface.SetInterfaceEnabled(true)
	}); err != nil {
		return err
	}

	for _, descriptor := range services.Services {
		binding, err := c.registry.Bind(ctx, c.conn, descriptor)
		if err != nil {
			var unrecognized *UnrecognizedServiceError
			if errors.As(err, &unrecognized) {
				if staleErr := c.ifCurrent(gen, func() { c.fail(err) }); staleErr != nil {
					return staleErr
				}
				return err
			}
			return c.abort(gen, err)
		}

		if err := c.ifCurrent(gen, func() {
			c.mu.Lock()
			c.bindings = append(c.bindings, binding)
			c.mu.Unlock()
			c.surface.Attach(binding)
		}); err != nil {
			if closeErr := binding.Close(); closeErr != nil {
				slog.Warn("Error closing binding", "label", binding.Label(), "err", closeErr)
			}
			return err
		}
	}

	if err := c.ifCurrent(gen, func() { c.setState(StateServicesBound) }); err != nil {
		return err
	}
	slog.Info("Services bound", "room", room, "count", len(services.Services))
	return nil
}

// abort ends a configuration run. The room and the bindings are kept. A
// superseded run reports errStaleRun and leaves the state to the disconnect.
func (c *Controller) abort(gen uint64, err error) error {
	if staleErr := c.ifCurrent(gen, func() { c.setState(StateUninitialized) }); staleErr != nil {
		return fmt.Errorf("%w: %v", errStaleRun, err)
	}
	return err
}

// fail enters the fatal state
func (c *Controller) fail(err error) {
	slog.Error("Panel configuration failed", "err", err)
	c.mu.Lock()
	c.state = StateFatal
	c.mu.Unlock()
	c.surface.SetInterfaceEnabled(false)
	c.surface.ShowFatalError(err.Error())
}

func (c *Controller) closeBindings() {
	c.mu.Lock()
	bindings := c.bindings
	c.bindings = nil
	c.mu.Unlock()

	for _, b := range bindings {
		if err := b.Close(); err != nil {
			slog.Warn("Error closing binding", "label", b.Label(), "err", err)
		}
	}
}
