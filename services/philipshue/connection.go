package philipshue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"home-control/store"

	"golang.org/x/exp/slices"
)

const credentialsKey = "credentials"

// credentials are kept in the store between runs
type credentials struct {
	Address  string `json:"address"`
	Username string `json:"username"`
}

// Connection holds the session with one bridge and a cache of its lights
type Connection struct {
	bucket     *store.Bucket
	bridge     Bridge
	address    string
	deviceType string

	mu       sync.RWMutex
	username string
	lights   []Light
}

// NewConnection creates a connection to the bridge at address. Credentials
// are read from and written to bucket.
func NewConnection(bucket *store.Bucket, bridge Bridge, address, deviceType string) *Connection {
	return &Connection{
		bucket:     bucket,
		bridge:     bridge,
		address:    address,
		deviceType: deviceType,
	}
}

// Initialize loads the stored credentials, or pairs with the bridge when there
// are none, and fetches the lights.
func (c *Connection) Initialize(ctx context.Context) error {
	var creds credentials
	found, err := c.bucket.Get(ctx, credentialsKey, &creds)
	if err != nil {
		return fmt.Errorf("error reading hue credentials: %w", err)
	}

	if !found || creds.Address != c.address || creds.Username == "" {
		slog.Info("Pairing with Philips Hue bridge, press the link button", "address", c.address)
		username, err := c.bridge.Pair(ctx, c.deviceType)
		if err != nil {
			return fmt.Errorf("unable to pair with the hue bridge at %s: %w", c.address, err)
		}
		creds = credentials{Address: c.address, Username: username}
		if err := c.bucket.Set(ctx, credentialsKey, creds); err != nil {
			return fmt.Errorf("error storing hue credentials: %w", err)
		}
	}

	c.mu.Lock()
	c.username = creds.Username
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			// The bridge forgot us; pair again on the next start
			_ = c.bucket.Delete(ctx, credentialsKey)
		}
		return err
	}
	return nil
}

// Refresh fetches the lights from the bridge
func (c *Connection) Refresh(ctx context.Context) error {
	c.mu.RLock()
	username := c.username
	c.mu.RUnlock()

	lights, err := c.bridge.Lights(ctx, username)
	if err != nil {
		return fmt.Errorf("error fetching hue lights: %w", err)
	}

	c.mu.Lock()
	c.lights = lights
	c.mu.Unlock()
	slog.Debug("Hue lights fetched", "count", len(lights))
	return nil
}

// Lights returns the cached lights, sorted by ID
func (c *Connection) Lights() []Light {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.lights)
}

// Light returns the cached light id
func (c *Connection) Light(id string) (Light, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := slices.IndexFunc(c.lights, func(l Light) bool { return l.ID == id })
	if i < 0 {
		return Light{}, false
	}
	return c.lights[i], true
}

// SetLightState changes light id and returns its updated state
func (c *Connection) SetLightState(ctx context.Context, id string, state LightState) (Light, error) {
	c.mu.RLock()
	username := c.username
	c.mu.RUnlock()

	if err := c.bridge.SetLightState(ctx, username, id, state); err != nil {
		return Light{}, fmt.Errorf("error setting hue light %s: %w", id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.IndexFunc(c.lights, func(l Light) bool { return l.ID == id })
	if i < 0 {
		return Light{}, fmt.Errorf("hue light %s is unknown", id)
	}
	if state.On != nil {
		c.lights[i].On = *state.On
	}
	if state.Brightness != nil {
		c.lights[i].Brightness = *state.Brightness
	}
	return c.lights[i], nil
}
