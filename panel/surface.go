package panel

import (
	"context"
	"encoding/json"

	"home-control/client"
)

// Surface is the user interface a Controller drives. Methods may be called
// from the controller loop and from a configuration run at the same time.
type Surface interface {
	// SetInterfaceEnabled shows or hides the service widgets
	SetInterfaceEnabled(enabled bool)
	// ShowNotConnected shows the non-dismissible not-connected indicator
	ShowNotConnected()
	// HideNotConnected closes the not-connected indicator
	HideNotConnected()
	// SelectRoom blocks until the user picks one of rooms. rooms is sorted.
	// current is the previously selected room or "".
	SelectRoom(ctx context.Context, rooms []string, current string, debugValues []string) (string, error)
	// ShowFatalError disables the interface and shows message on top of
	// every other dialog. There is no way back.
	ShowFatalError(message string)
	// Clear removes every widget
	Clear()
	// Attach adds the widget of binding
	Attach(binding Binding)
}

// Binding is the panel side of one service descriptor
type Binding interface {
	Label() string
	Close() error
}

// Sender issues commands to the server. *client.Connection implements it.
type Sender interface {
	Send(ctx context.Context, command string, params any, result any) error
	DebugValues() []string
	Subscribe(serviceID string, handler func(event string, data json.RawMessage)) func()
}

// Connection is a Sender that also reports connect and disconnect events
type Connection interface {
	Sender
	Events() <-chan client.Event
}
