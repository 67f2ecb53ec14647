package llm

import (
	"os"

	"github.com/costcraft/mason/pkg/config"
)

// Selection is a resolved model choice for a stage: the model name, the
// credential value, and which env var supplied it (for the audit trail).
// Credential may be empty — the caller fails loudly in that case.
type Selection struct {
	Model            string
	Credential       string
	CredentialSource string
	Params           map[string]any
}

// Selector picks models and credentials per stage from the routing
// registry. Read-only after construction.
type Selector struct {
	routing *config.RoutingRegistry
}

// NewSelector creates a selector over the given routing registry.
func NewSelector(routing *config.RoutingRegistry) *Selector {
	return &Selector{routing: routing}
}

// Select resolves the preferred model for a stage. Unknown stages resolve
// through the default route list. The route's env vars are consulted in
// declared order; the first non-empty value wins.
func (s *Selector) Select(stageName string) Selection {
	routes := s.routing.Get(stageName)
	if routes == nil || len(routes.Routes) == 0 {
		return Selection{}
	}
	return resolveRoute(routes.Routes[0])
}

// Fallback returns the route after failedModel in the stage's list, or
// ok=false when the failed model was the last entry (or isn't listed).
func (s *Selector) Fallback(stageName, failedModel string) (Selection, bool) {
	routes := s.routing.Get(stageName)
	if routes == nil {
		return Selection{}, false
	}
	for i, route := range routes.Routes {
		if route.Model == failedModel && i+1 < len(routes.Routes) {
			return resolveRoute(routes.Routes[i+1]), true
		}
	}
	return Selection{}, false
}

// resolveRoute resolves a route's credential from the environment.
func resolveRoute(route config.ModelRoute) Selection {
	sel := Selection{Model: route.Model, Params: route.Params}
	for _, envVar := range route.APIKeyEnvs {
		if value := os.Getenv(envVar); value != "" {
			sel.Credential = value
			sel.CredentialSource = envVar
			return sel
		}
	}
	return sel
}
