package config

import "github.com/costcraft/mason/pkg/models"

// Built-in model routing. User YAML overrides these per stage; the default
// route list is the catch-all for stages without an explicit entry.
//
// Credential env vars are consulted in declared order, so deployments can
// layer a dedicated key over a shared one without editing every stage.

// DefaultAPIKeyEnvs is the standard credential lookup order.
var DefaultAPIKeyEnvs = []string{"MODEL_CREDENTIAL_PRIMARY", "ANTHROPIC_API_KEY"}

// FallbackAPIKeyEnvs is the lookup order for fallback models.
var FallbackAPIKeyEnvs = []string{"MODEL_CREDENTIAL_FALLBACK", "MODEL_CREDENTIAL_PRIMARY", "ANTHROPIC_API_KEY"}

const (
	defaultPrimaryModel  = "claude-sonnet-4-20250514"
	defaultFallbackModel = "claude-3-5-haiku-20241022"
)

// builtinDefaultRoutes returns the catch-all route list.
func builtinDefaultRoutes() *StageRoutes {
	return &StageRoutes{Routes: []ModelRoute{
		{Model: defaultPrimaryModel, APIKeyEnvs: DefaultAPIKeyEnvs},
		{Model: defaultFallbackModel, APIKeyEnvs: FallbackAPIKeyEnvs},
	}}
}

// builtinStageRoutes returns per-stage route lists. The classifier and
// trade stages tolerate the cheaper model as primary; estimation keeps the
// stronger model first.
func builtinStageRoutes() map[string]*StageRoutes {
	return map[string]*StageRoutes{
		"intent": {Routes: []ModelRoute{
			{Model: defaultFallbackModel, APIKeyEnvs: DefaultAPIKeyEnvs},
			{Model: defaultPrimaryModel, APIKeyEnvs: FallbackAPIKeyEnvs},
		}},
		models.StageClassifyTrades: {Routes: []ModelRoute{
			{Model: defaultFallbackModel, APIKeyEnvs: DefaultAPIKeyEnvs},
			{Model: defaultPrimaryModel, APIKeyEnvs: FallbackAPIKeyEnvs},
		}},
		models.StageEstimate: {Routes: []ModelRoute{
			{Model: defaultPrimaryModel, APIKeyEnvs: DefaultAPIKeyEnvs},
			{Model: defaultFallbackModel, APIKeyEnvs: FallbackAPIKeyEnvs},
		}},
	}
}
