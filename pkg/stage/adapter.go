// Package stage defines the adapter contract for pipeline stages, the
// immutable registry the manager runs them from, and the built-in adapters
// for the standard estimation pipeline.
package stage

import (
	"context"
	"fmt"
)

// Adapter is one pipeline stage. Adapters receive the state's plain
// representation and return a mutated copy; the manager merges the result
// back. A returned map with "error" set signals a soft failure the manager
// classifies; a returned Go error is treated as critical.
type Adapter interface {
	// Name is the unique stage name, one of the canonical stage constants.
	Name() string

	// RequiredInput is the state field that must be populated before this
	// stage runs, or "" when the stage has no input dependency.
	RequiredInput() string

	// Invoke runs the stage against the plain state representation.
	Invoke(ctx context.Context, plain map[string]any) (map[string]any, error)
}

// Registry holds the registered stage adapters. Immutable after
// construction, so reads need no synchronization.
type Registry struct {
	adapters map[string]Adapter
	names    []string
}

// NewRegistry builds a registry from the given adapters. Registration order
// is preserved by Names. Duplicate or empty names are construction errors.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{
		adapters: make(map[string]Adapter, len(adapters)),
		names:    make([]string, 0, len(adapters)),
	}
	for _, a := range adapters {
		name := a.Name()
		if name == "" {
			return nil, fmt.Errorf("stage adapter with empty name")
		}
		if _, exists := r.adapters[name]; exists {
			return nil, fmt.Errorf("duplicate stage adapter: %s", name)
		}
		r.adapters[name] = a
		r.names = append(r.names, name)
	}
	return r, nil
}

// Get returns the adapter for a stage name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Has reports whether a stage is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.adapters[name]
	return ok
}

// Names returns the registered stage names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	return len(r.adapters)
}
