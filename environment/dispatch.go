package environment

import (
	"encoding/json"
	"fmt"
)

// Commands answered by the environment.
const (
	CommandRooms    = "environment-rooms"
	CommandServices = "environment-services"
)

// RoomsResult is the result of the environment-rooms command.
type RoomsResult struct {
	Rooms []string `json:"rooms"`
}

// ServicesParams are the parameters of the environment-services command.
type ServicesParams struct {
	Room string `json:"room"`
}

// ServicesResult is the result of the environment-services command.
type ServicesResult struct {
	Services []ServiceDescriptor `json:"services"`
}

// ParameterError reports command parameters that could not be understood.
type ParameterError struct {
	Command string
	Err     error
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameters for %s: %v", e.Command, e.Err)
}

func (e *ParameterError) Unwrap() error {
	return e.Err
}

// DispatchCommand answers environment commands. handled is false for command
// names the environment does not know, so the caller can try other handlers.
func (e *Environment) DispatchCommand(name string, params json.RawMessage) (result any, handled bool, err error) {
	switch name {
	case CommandRooms:
		return RoomsResult{Rooms: e.Rooms()}, true, nil

	case CommandServices:
		var p ServicesParams
		if len(params) == 0 {
			return nil, true, &ParameterError{Command: name, Err: fmt.Errorf("room is required")}
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, true, &ParameterError{Command: name, Err: err}
		}
		return ServicesResult{Services: e.Services(p.Room)}, true, nil
	}

	return nil, false, nil
}
