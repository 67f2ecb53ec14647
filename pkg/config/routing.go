package config

import (
	"fmt"
	"sync"
)

// ModelRoute is one entry in a stage's ordered model list: the model to use
// and the environment variables to consult, in order, for its credential.
type ModelRoute struct {
	Model      string         `yaml:"model"`
	APIKeyEnvs []string       `yaml:"api_key_envs"`
	Params     map[string]any `yaml:"params,omitempty"`
}

// StageRoutes is the ordered model list for a single stage. The first entry
// is the preferred model; later entries are fallbacks.
type StageRoutes struct {
	Routes []ModelRoute `yaml:"routes"`
}

// RoutingRegistry stores per-stage model routes in memory with thread-safe
// access. Read-only after construction.
type RoutingRegistry struct {
	stages  map[string]*StageRoutes
	defawlt *StageRoutes
	mu      sync.RWMutex
}

// NewRoutingRegistry creates a routing registry. defaultRoutes is used for
// stages with no explicit route list.
func NewRoutingRegistry(stages map[string]*StageRoutes, defaultRoutes *StageRoutes) *RoutingRegistry {
	copied := make(map[string]*StageRoutes, len(stages))
	for k, v := range stages {
		copied[k] = v
	}
	return &RoutingRegistry{
		stages:  copied,
		defawlt: defaultRoutes,
	}
}

// Get retrieves the model routes for a stage. Unknown stages fall back to
// the default route list.
func (r *RoutingRegistry) Get(stageName string) *StageRoutes {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if routes, exists := r.stages[stageName]; exists && len(routes.Routes) > 0 {
		return routes
	}
	return r.defawlt
}

// Has checks if a stage has an explicit route list.
func (r *RoutingRegistry) Has(stageName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.stages[stageName]
	return exists
}

// Default returns the default route list.
func (r *RoutingRegistry) Default() *StageRoutes {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defawlt
}

// Len returns the number of stages with explicit routes.
func (r *RoutingRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stages)
}

// StageNames returns the stages with explicit routes (unsorted).
func (r *RoutingRegistry) StageNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}
	return names
}

// validateRoutes checks a route list for structural problems.
func validateRoutes(component string, routes *StageRoutes) error {
	if routes == nil || len(routes.Routes) == 0 {
		return NewValidationError("routing", component, "routes", ErrMissingRequiredField)
	}
	for i, route := range routes.Routes {
		if route.Model == "" {
			return NewValidationError("routing", component, fmt.Sprintf("routes[%d].model", i), ErrMissingRequiredField)
		}
		if len(route.APIKeyEnvs) == 0 {
			return NewValidationError("routing", component, fmt.Sprintf("routes[%d].api_key_envs", i), ErrMissingRequiredField)
		}
	}
	return nil
}
