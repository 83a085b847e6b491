package service

import (
	"context"
	"encoding/json"
)

// Service is implemented by every integration (lighting hub, thermostat, ...).
// A Service is created once at startup and lives for the whole process.
type Service interface {
	// Identifier returns the unique, stable name of the service. Descriptors in
	// the environment refer to it as their service kind.
	Identifier() string

	// Initialize performs the handshake with the service's backend. Returning
	// false aborts server startup.
	Initialize(ctx context.Context) bool

	// Validate reports whether the service can operate with the options of an
	// environment descriptor. It must not change any state.
	Validate(options json.RawMessage) bool
}

// CommandHandler is implemented by services that answer commands from clients.
// Commands reach it with the service prefix already removed.
type CommandHandler interface {
	HandleCommand(ctx context.Context, client Client, command string, params json.RawMessage) (result any, handled bool, err error)
}

// Client addresses one connected panel. Services use it to push state back to
// the client that issued a command.
type Client interface {
	// ID returns the connection identifier
	ID() string

	// Push sends an out-of-band event to this client
	Push(service, event string, payload any) error
}

// Broadcaster is implemented by the server so services can notify every
// connected client.
type Broadcaster interface {
	Broadcast(service, event string, payload any) error
}
