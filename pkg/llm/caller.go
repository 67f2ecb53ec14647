// Package llm is the single entry point to the external model. It resolves
// models and credentials per stage (Selector), invokes the provider
// (Transport), retries with escalating fallbacks, and categorizes every
// failure so callers never see raw transport errors.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// DefaultMaxRetries bounds the retry/fallback loop when the caller is
// constructed with a non-positive value.
const DefaultMaxRetries = 3

// retryBaseDelay is the base wait between same-model retries.
const retryBaseDelay = 100 * time.Millisecond

// Request describes one completion call. Model and Credential usually come
// from a prior Selector.Select; StageName enables the fallback chain.
type Request struct {
	Prompt       string
	SystemPrompt string
	Model        string
	Credential   string
	StageName    string
	MaxTokens    int
	Temperature  float64
	Params       map[string]any
}

// Caller wraps a Transport with retry, model fallback, and error
// categorization.
type Caller struct {
	transport  Transport
	selector   *Selector
	maxRetries int
}

// NewCaller creates a caller. selector may be nil, which disables model
// fallback (retries stay on the requested model).
func NewCaller(transport Transport, selector *Selector, maxRetries int) *Caller {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Caller{transport: transport, selector: selector, maxRetries: maxRetries}
}

// Complete invokes the model, retrying with fallbacks on categorized
// failures. On success the returned text is trimmed. On failure the error
// is always a *CallError carrying the last attempt's category.
func (c *Caller) Complete(ctx context.Context, req Request) (Completion, error) {
	if req.Credential == "" {
		return Completion{}, &CallError{
			Kind:    KindMissingCredential,
			Message: "no credential resolved for model " + req.Model,
		}
	}

	log := slog.With("model", req.Model, "stage", req.StageName)

	var lastKind ErrorKind
	var lastMsg string

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		completion, err := c.transport.Complete(ctx, CompletionRequest{
			Prompt:       req.Prompt,
			SystemPrompt: req.SystemPrompt,
			Model:        req.Model,
			Credential:   req.Credential,
			MaxTokens:    req.MaxTokens,
			Temperature:  req.Temperature,
			Params:       req.Params,
		})
		if err == nil {
			completion.Text = strings.TrimSpace(completion.Text)
			return completion, nil
		}

		lastKind = categorize(err)
		lastMsg = err.Error()
		log.Warn("Model call failed",
			"attempt", attempt, "max_retries", c.maxRetries, "kind", lastKind, "error", err)

		if attempt == c.maxRetries {
			break
		}

		// Prefer switching to the stage's next configured model. Without a
		// fallback, retry the same model only for transient kinds.
		if req.StageName != "" && c.selector != nil {
			if fallback, ok := c.selector.Fallback(req.StageName, req.Model); ok && fallback.Credential != "" {
				log.Info("Falling back to next model", "from", req.Model, "to", fallback.Model)
				callRetries.WithLabelValues(req.StageName).Inc()
				req.Model = fallback.Model
				req.Credential = fallback.Credential
				continue
			}
		}
		if !lastKind.retryable() {
			break
		}
		callRetries.WithLabelValues(req.StageName).Inc()
		if err := sleepCtx(ctx, retryBaseDelay*time.Duration(attempt)); err != nil {
			lastKind = KindNetworkError
			lastMsg = err.Error()
			break
		}
	}

	return Completion{}, &CallError{
		Kind:              lastKind,
		Message:           lastMsg,
		RetryWithFallback: lastKind.retryable(),
	}
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// categorize maps a raw transport error to an ErrorKind. HTTP status takes
// precedence; message substrings cover transports without status codes.
func categorize(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetworkError
	}

	if status, ok := httpStatus(err); ok {
		switch {
		case status == 401 || status == 403:
			return KindAuthError
		case status == 404:
			return KindModelNotFound
		case status == 429:
			if containsAny(err.Error(), "quota", "billing", "credit") {
				return KindQuotaExceeded
			}
			return KindRateLimit
		case status >= 500:
			return KindServerError
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "rate limit", "too many requests"):
		return KindRateLimit
	case containsAny(msg, "quota", "billing", "insufficient credit"):
		return KindQuotaExceeded
	case containsAny(msg, "unauthorized", "authentication", "invalid api key", "api key"):
		return KindAuthError
	case containsAny(msg, "model not found", "unknown model", "no such model"):
		return KindModelNotFound
	case containsAny(msg, "connection refused", "no such host", "timeout", "timed out", "eof", "network"):
		return KindNetworkError
	case containsAny(msg, "internal server error", "overloaded", "service unavailable", "bad gateway"):
		return KindServerError
	}
	return KindUnknown
}

func containsAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
