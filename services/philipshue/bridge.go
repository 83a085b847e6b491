package philipshue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/exp/slices"
)

// Hue API error types
const (
	errorTypeUnauthorized         = 1
	errorTypeLinkButtonNotPressed = 101
)

// ErrLinkButtonNotPressed is returned by Pair until the bridge's link button is pressed
var ErrLinkButtonNotPressed = errors.New("link button not pressed")

// ErrUnauthorized is returned when the bridge does not know the username
var ErrUnauthorized = errors.New("unauthorized user")

// APIError is an error reported by the bridge
type APIError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hue bridge error %d at %s: %s", e.Type, e.Address, e.Description)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrLinkButtonNotPressed:
		return e.Type == errorTypeLinkButtonNotPressed
	case ErrUnauthorized:
		return e.Type == errorTypeUnauthorized
	}
	return false
}

// Light is the state of one light
type Light struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	On         bool   `json:"on"`
	Brightness int    `json:"brightness"`
	Reachable  bool   `json:"reachable"`
}

// LightState is a change to a light. Nil fields are left unchanged.
type LightState struct {
	On         *bool `json:"on,omitempty"`
	Brightness *int  `json:"brightness,omitempty"`
}

// Bridge is the part of the Hue bridge API the service uses
type Bridge interface {
	// Pair registers deviceType with the bridge and returns the new username
	Pair(ctx context.Context, deviceType string) (string, error)
	// Lights returns every light, sorted by ID
	Lights(ctx context.Context, username string) ([]Light, error)
	// SetLightState applies state to light id
	SetLightState(ctx context.Context, username, id string, state LightState) error
}

// HTTPBridge talks to a bridge over its local REST API
type HTTPBridge struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBridge creates a bridge client for address, a host name, an IP
// address or a URL.
func NewHTTPBridge(address string) (*HTTPBridge, error) {
	if address == "" {
		return nil, fmt.Errorf("hue bridge address is required")
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid hue bridge address: %w", err)
	}

	return &HTTPBridge{
		baseURL: strings.TrimSuffix(u.String(), "/") + "/api",
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// do sends a request and decodes the response into v. Hue answers errors
// with status 200 and a list of {"error": ...} objects.
func (b *HTTPBridge) do(ctx context.Context, method, path string, body any, v any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("hue bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading hue bridge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hue bridge returned status %d", resp.StatusCode)
	}

	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		var results []struct {
			Error *APIError `json:"error"`
		}
		if err := json.Unmarshal(data, &results); err == nil {
			for _, r := range results {
				if r.Error != nil {
					return r.Error
				}
			}
		}
	}

	if v == nil {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("error decoding hue bridge response: %w", err)
	}
	return nil
}

func (b *HTTPBridge) Pair(ctx context.Context, deviceType string) (string, error) {
	var results []struct {
		Success struct {
			Username string `json:"username"`
		} `json:"success"`
	}
	if err := b.do(ctx, http.MethodPost, "", map[string]string{"devicetype": deviceType}, &results); err != nil {
		return "", err
	}
	if len(results) == 0 || results[0].Success.Username == "" {
		return "", fmt.Errorf("hue bridge did not return a username")
	}
	return results[0].Success.Username, nil
}

type bridgeLight struct {
	Name  string `json:"name"`
	State struct {
		On        bool `json:"on"`
		Bri       int  `json:"bri"`
		Reachable bool `json:"reachable"`
	} `json:"state"`
}

func (b *HTTPBridge) Lights(ctx context.Context, username string) ([]Light, error) {
	var response map[string]bridgeLight
	if err := b.do(ctx, http.MethodGet, "/"+url.PathEscape(username)+"/lights", nil, &response); err != nil {
		return nil, err
	}

	lights := make([]Light, 0, len(response))
	for id, l := range response {
		lights = append(lights, Light{
			ID:         id,
			Name:       l.Name,
			On:         l.State.On,
			Brightness: l.State.Bri,
			Reachable:  l.State.Reachable,
		})
	}
	slices.SortFunc(lights, func(a, b Light) int { return compareIDs(a.ID, b.ID) })
	return lights, nil
}

func (b *HTTPBridge) SetLightState(ctx context.Context, username, id string, state LightState) error {
	body := map[string]any{}
	if state.On != nil {
		body["on"] = *state.On
	}
	if state.Brightness != nil {
		body["bri"] = *state.Brightness
	}
	path := "/" + url.PathEscape(username) + "/lights/" + url.PathEscape(id) + "/state"
	return b.do(ctx, http.MethodPut, path, body, nil)
}

// compareIDs orders numeric light IDs numerically ("2" < "10")
func compareIDs(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return strings.Compare(a, b)
}
