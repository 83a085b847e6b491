//go:build integration

package helpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// HueBridge is an in-memory Philips Hue bridge speaking the v1 REST API
type HueBridge struct {
	server   *httptest.Server
	mu       sync.Mutex
	username string
	lights   map[string]*hueLight
}

type hueLight struct {
	Name  string `json:"name"`
	State struct {
		On        bool `json:"on"`
		Bri       int  `json:"bri"`
		Reachable bool `json:"reachable"`
	} `json:"state"`
}

// NewHueBridge starts a bridge with the given lights (id to name), all off
func NewHueBridge(lights map[string]string) *HueBridge {
	b := &HueBridge{
		username: "integration-user",
		lights:   make(map[string]*hueLight),
	}
	for id, name := range lights {
		l := &hueLight{Name: name}
		l.State.Bri = 128
		l.State.Reachable = true
		b.lights[id] = l
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{map[string]any{"success": map[string]string{"username": b.username}}})
	})
	mux.HandleFunc("GET /api/{user}/lights", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeJSON(w, b.lights)
	})
	mux.HandleFunc("PUT /api/{user}/lights/{id}/state", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			On  *bool `json:"on"`
			Bri *int  `json:"bri"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		b.mu.Lock()
		defer b.mu.Unlock()
		l, ok := b.lights[r.PathValue("id")]
		if !ok {
			writeJSON(w, []any{map[string]any{"error": map[string]any{"type": 3, "address": r.URL.Path, "description": "resource not available"}}})
			return
		}
		if body.On != nil {
			l.State.On = *body.On
		}
		if body.Bri != nil {
			l.State.Bri = *body.Bri
		}
		writeJSON(w, []any{map[string]any{"success": map[string]any{}}})
	})

	b.server = httptest.NewServer(mux)
	return b
}

// URL returns the address to configure for the bridge
func (b *HueBridge) URL() string {
	return b.server.URL
}

// IsOn reports the state of a light
func (b *HueBridge) IsOn(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.lights[id]
	return ok && l.State.On
}

// Close stops the bridge
func (b *HueBridge) Close() {
	b.server.Close()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
