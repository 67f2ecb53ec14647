package llm

import (
	"context"

	"github.com/costcraft/mason/pkg/models"
)

// CompletionRequest is the transport-level request for one model call.
type CompletionRequest struct {
	Prompt       string
	SystemPrompt string
	Model        string
	Credential   string
	MaxTokens    int
	Temperature  float64
	Params       map[string]any
}

// Completion is the transport-level result of a successful model call.
type Completion struct {
	Text  string
	Usage models.TokenUsage
}

// Transport performs a single model invocation. Implementations return raw
// provider errors; categorization happens in the Caller.
type Transport interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req CompletionRequest) (Completion, error)

func (f TransportFunc) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	return f(ctx, req)
}
