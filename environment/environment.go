package environment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/jsonc"
	"golang.org/x/exp/slices"
)

// ServiceDescriptor is one service instance placed in a room.
type ServiceDescriptor struct {
	Label   string          `json:"label"`
	Service string          `json:"service"` // service kind, matches a registered service identifier
	Options json.RawMessage `json:"options,omitempty"`
}

// PlacedDescriptor pairs a descriptor with the room it belongs to.
type PlacedDescriptor struct {
	Room       string
	Index      int
	Descriptor ServiceDescriptor
}

// Environment is the room and service topology served to panels. It is never
// modified after construction; a reload builds a new one.
type Environment struct {
	rooms    []string
	services map[string][]ServiceDescriptor
}

// InvalidEnvironmentError is returned when an environment source cannot be
// turned into a valid Environment.
type InvalidEnvironmentError struct {
	Reason string
	Err    error
}

func (e *InvalidEnvironmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid environment: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid environment: %s", e.Reason)
}

func (e *InvalidEnvironmentError) Unwrap() error {
	return e.Err
}

// environmentFile is the on-disk representation.
type environmentFile struct {
	Rooms    []string                       `json:"rooms"`
	Services map[string][]ServiceDescriptor `json:"services"`
}

// Empty returns an environment without rooms or services.
func Empty() *Environment {
	return &Environment{
		rooms:    []string{},
		services: make(map[string][]ServiceDescriptor),
	}
}

// FromFile reads and validates the environment stored at path.
func FromFile(path string) (*Environment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &InvalidEnvironmentError{Reason: "cannot open " + path, Err: err}
	}
	defer f.Close()

	return FromSource(f)
}

// FromSource parses JSON (comments and trailing commas allowed) and validates
// the resulting topology. Nothing is returned unless the whole source is valid.
func FromSource(r io.Reader) (*Environment, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, &InvalidEnvironmentError{Reason: "cannot read source", Err: err}
	}

	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(src)))
	decoder.DisallowUnknownFields()

	var file environmentFile
	if err := decoder.Decode(&file); err != nil {
		return nil, &InvalidEnvironmentError{Reason: "malformed source", Err: err}
	}

	return build(file)
}

func build(file environmentFile) (*Environment, error) {
	env := &Environment{
		rooms:    make([]string, 0, len(file.Rooms)),
		services: make(map[string][]ServiceDescriptor, len(file.Rooms)),
	}

	for _, room := range file.Rooms {
		if room == "" {
			return nil, &InvalidEnvironmentError{Reason: "room names cannot be empty"}
		}
		if env.HasRoom(room) {
			return nil, &InvalidEnvironmentError{Reason: fmt.Sprintf("room %q is listed more than once", room)}
		}
		env.rooms = append(env.rooms, room)
	}

	var unknown []string
	for room := range file.Services {
		if !env.HasRoom(room) {
			unknown = append(unknown, room)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return nil, &InvalidEnvironmentError{Reason: fmt.Sprintf("services reference unknown room %q", unknown[0])}
	}

	// room order keeps the reported error stable
	for _, room := range env.rooms {
		descriptors, ok := file.Services[room]
		if !ok {
			continue
		}

		list := make([]ServiceDescriptor, 0, len(descriptors))
		for i, descriptor := range descriptors {
			if descriptor.Label == "" {
				return nil, &InvalidEnvironmentError{Reason: fmt.Sprintf("service %d in room %q has no label", i, room)}
			}
			if descriptor.Service == "" {
				return nil, &InvalidEnvironmentError{Reason: fmt.Sprintf("service %q in room %q has no service kind", descriptor.Label, room)}
			}
			if len(descriptor.Options) == 0 || string(descriptor.Options) == "null" {
				descriptor.Options = json.RawMessage(`{}`)
			}
			list = append(list, descriptor)
		}
		env.services[room] = list
	}

	return env, nil
}

// Rooms returns the room names in configuration order.
func (e *Environment) Rooms() []string {
	return slices.Clone(e.rooms)
}

// HasRoom reports whether room is part of the environment.
func (e *Environment) HasRoom(room string) bool {
	return slices.Contains(e.rooms, room)
}

// Services returns the descriptors of room. Unknown rooms have no services.
func (e *Environment) Services(room string) []ServiceDescriptor {
	descriptors := e.services[room]
	result := make([]ServiceDescriptor, 0, len(descriptors))
	for _, descriptor := range descriptors {
		descriptor.Options = slices.Clone(descriptor.Options)
		result = append(result, descriptor)
	}
	return result
}

// Descriptors returns every descriptor in room order, then list order.
func (e *Environment) Descriptors() []PlacedDescriptor {
	var result []PlacedDescriptor
	for _, room := range e.rooms {
		for i, descriptor := range e.services[room] {
			result = append(result, PlacedDescriptor{Room: room, Index: i, Descriptor: descriptor})
		}
	}
	return result
}
