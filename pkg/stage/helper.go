package stage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/costcraft/mason/pkg/llm"
	"github.com/costcraft/mason/pkg/models"
)

// Helper bundles the services the built-in adapters share: model selection
// and invocation. Adapters embed it by composition; stateless and safe for
// concurrent use across requests.
type Helper struct {
	Selector *llm.Selector
	Caller   *llm.Caller
}

// NewHelper creates a helper for LLM-backed adapters.
func NewHelper(selector *llm.Selector, caller *llm.Caller) *Helper {
	return &Helper{Selector: selector, Caller: caller}
}

// CallModel selects the stage's model, invokes it, and accounts the token
// usage on the state. The selection is recorded on ModelConfig so the
// response shows which model produced each stage's output.
func (h *Helper) CallModel(ctx context.Context, state *models.SharedState, stageName, systemPrompt, prompt string) (string, error) {
	sel := h.Selector.Select(stageName)

	state.ModelConfig.ModelName = sel.Model
	state.ModelConfig.Credential = sel.Credential
	state.ModelConfig.Params = sel.Params

	completion, err := h.Caller.Complete(ctx, llm.Request{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Model:        sel.Model,
		Credential:   sel.Credential,
		StageName:    stageName,
	})
	if err != nil {
		return "", err
	}

	state.ModelConfig.TokenUsage.InputTokens += completion.Usage.InputTokens
	state.ModelConfig.TokenUsage.OutputTokens += completion.Usage.OutputTokens
	state.ModelConfig.TokenUsage.TotalTokens += completion.Usage.TotalTokens
	return completion.Text, nil
}

// criticalModelError reports failures no deterministic fallback may absorb.
// Credential and auth problems repeat identically on every model, so masking
// them with a fallback would hide a broken deployment.
func criticalModelError(err error) bool {
	var callErr *llm.CallError
	if errors.As(err, &callErr) {
		return callErr.Kind == llm.KindMissingCredential || callErr.Kind == llm.KindAuthError
	}
	return false
}

// loadState reconstructs typed state inside an adapter. A plain map that
// cannot round-trip is a programming error upstream, so failures are
// returned as hard errors.
func loadState(plain map[string]any) (*models.SharedState, error) {
	return models.FromPlain(plain)
}

// saveState converts mutated typed state back to the plain contract.
func saveState(state *models.SharedState) (map[string]any, error) {
	plain, err := state.ToPlain()
	if err != nil {
		slog.Error("Failed to serialize stage output", "session_id", state.SessionID, "error", err)
		return nil, err
	}
	return plain, nil
}
