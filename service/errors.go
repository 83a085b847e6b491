package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateService is returned by AddService when the identifier is taken.
	ErrDuplicateService = errors.New("service already registered")

	// ErrInvalidParameters is wrapped by services when a command's parameters
	// cannot be used.
	ErrInvalidParameters = errors.New("invalid parameters")
)

// InitializationError is returned when a service failed to initialize.
type InitializationError struct {
	Identifier string
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("service %s failed to initialize", e.Identifier)
}

// DescriptorFailure describes one environment descriptor that did not validate.
type DescriptorFailure struct {
	Room    string
	Index   int
	Label   string
	Service string
	Reason  string
}

func (f DescriptorFailure) String() string {
	return fmt.Sprintf("%s[%d] %q (%s): %s", f.Room, f.Index, f.Label, f.Service, f.Reason)
}

// ValidationError is returned when a candidate environment is rejected.
type ValidationError struct {
	Failures []DescriptorFailure
}

// First returns the first failing descriptor in environment order.
func (e *ValidationError) First() DescriptorFailure {
	return e.Failures[0]
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		parts = append(parts, failure.String())
	}
	return fmt.Sprintf("environment rejected: %s", strings.Join(parts, "; "))
}
