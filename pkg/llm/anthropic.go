package llm

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/costcraft/mason/pkg/models"
)

// defaultMaxTokens caps completions when the request doesn't specify one.
const defaultMaxTokens = 4096

// AnthropicTransport implements Transport on the Anthropic Messages API.
// A fresh SDK client is built per call because the credential is resolved
// per stage and may differ between calls within one request.
type AnthropicTransport struct {
	// BaseURL overrides the API endpoint (tests point it at a local server).
	BaseURL string
}

// NewAnthropicTransport creates the production transport.
func NewAnthropicTransport() *AnthropicTransport {
	return &AnthropicTransport{}
}

// Complete issues a non-streaming Messages.New request and returns the
// concatenated text blocks.
func (t *AnthropicTransport) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	opts := []option.RequestOption{option.WithAPIKey(req.Credential)}
	if t.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(t.BaseURL))
	}
	client := sdk.NewClient(opts...)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return Completion{}, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return Completion{
		Text: text,
		Usage: models.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

// httpStatus extracts the HTTP status code from an SDK API error.
func httpStatus(err error) (int, bool) {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}
