package panel

import (
	"context"
	"fmt"

	"home-control/environment"

	"golang.org/x/exp/slices"
)

// Factory creates the binding of one descriptor
type Factory func(ctx context.Context, sender Sender, descriptor environment.ServiceDescriptor) (Binding, error)

// Registry maps service kinds to binding factories
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds the factory for kind
func (r *Registry) Register(kind string, factory Factory) error {
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("binding for service %q already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// Kinds returns the registered kinds, sorted
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}

// Bind creates the binding for descriptor. An unregistered kind returns
// *UnrecognizedServiceError.
func (r *Registry) Bind(ctx context.Context, sender Sender, descriptor environment.ServiceDescriptor) (Binding, error) {
	factory, ok := r.factories[descriptor.Service]
	if !ok {
		return nil, &UnrecognizedServiceError{Kind: descriptor.Service, Label: descriptor.Label}
	}
	return factory(ctx, sender, descriptor)
}
