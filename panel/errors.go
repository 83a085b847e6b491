package panel

import "fmt"

// UnrecognizedServiceError is returned when a descriptor names a service kind
// the panel has no binding for. It puts the controller in the fatal state.
type UnrecognizedServiceError struct {
	Kind  string
	Label string
}

func (e *UnrecognizedServiceError) Error() string {
	return fmt.Sprintf("unrecognized service %q for %q", e.Kind, e.Label)
}

// UnknownRoomError is returned when the room selection resolved to a room the
// server did not list
type UnknownRoomError struct {
	Room string
}

func (e *UnknownRoomError) Error() string {
	return fmt.Sprintf("room %q is not in the room list", e.Room)
}
