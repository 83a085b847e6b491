package client

import "errors"

var (
	// ErrNotConnected is returned by Send when the connection is not in the Connected state
	ErrNotConnected = errors.New("not connected to the server")
	// ErrDisconnected is returned to every request still waiting when the transport is lost
	ErrDisconnected = errors.New("disconnected from the server")
)

// State is the state of a Connection
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	}
	return "Unknown"
}

// EventType identifies a connection event
type EventType int

const (
	// EventConnect is emitted once the server's hello was received
	EventConnect EventType = iota
	// EventDisconnect is emitted when an established connection is lost
	EventDisconnect
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	}
	return "unknown"
}

// Event is delivered on Connection.Events
type Event struct {
	Type EventType
	// Err is the transport error that caused a disconnect
	Err error
}
