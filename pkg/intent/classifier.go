package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/costcraft/mason/pkg/llm"
	"github.com/costcraft/mason/pkg/models"
	"github.com/costcraft/mason/pkg/smartsheet"
)

// classifyStageName routes classifier model calls in the model config.
const classifyStageName = "intent"

const classifySystemPrompt = `You are the routing brain of a construction estimation assistant. ` +
	`Given the request context and the intent catalog, decide what the user wants. ` +
	`Reply with ONLY a JSON object with keys: ` +
	`primary_intent (one of the catalog labels), confidence (0..1), reasoning, ` +
	`recommended_sequence (array of stage names), skip_reasons (object of stage -> reason). ` +
	`No prose, no markdown fences.`

// exportTokens signal the user wants the estimate rendered to a file.
var exportTokens = []string{"export", "download", "save"}

// domainTokens boost confidence for clearly on-domain queries.
var domainTokens = []string{"estimate", "cost", "pricing", "bid", "takeoff"}

// rerunPattern matches "rerun takeoff", "re-run the qa stage", etc.
var rerunPattern = regexp.MustCompile(`(?i)\bre-?run\s+(?:the\s+)?([a-z_]+)`)

// Result is the classifier's decision.
type Result struct {
	Intent     Intent
	Confidence float64
	Source     string // "pattern", "llm", or "rule"
	Reasoning  string

	// RecommendedSequence and SkipReasons are advisory hints from the
	// model pass; the planner makes the binding decision.
	RecommendedSequence []string
	SkipReasons         map[string]string

	// RerunTarget is the stage to re-run when Intent is RerunStage.
	RerunTarget string
}

// Classifier decides the request's intent: strong patterns first, then the
// model, then a deterministic rule table so classification always succeeds.
type Classifier struct {
	selector *llm.Selector
	caller   *llm.Caller
}

// NewClassifier creates a classifier. selector and caller may be nil, which
// skips the model pass entirely (pattern + rules only).
func NewClassifier(selector *llm.Selector, caller *llm.Caller) *Classifier {
	return &Classifier{selector: selector, caller: caller}
}

// Classify determines the intent for a request and appends a trace entry
// recording the decision and its source.
func (c *Classifier) Classify(ctx context.Context, state *models.SharedState) Result {
	result := c.classify(ctx, state)

	state.AppendTrace(models.TraceEntry{
		StageName: "intent_classifier",
		Decision: fmt.Sprintf("intent=%s confidence=%.2f source=%s",
			result.Intent, result.Confidence, result.Source),
	})
	return result
}

func (c *Classifier) classify(ctx context.Context, state *models.SharedState) Result {
	// Pattern pass: strong signals short-circuit the model.
	if r, ok := patternPass(state); ok {
		return r
	}

	if c.caller != nil && c.selector != nil {
		if r, err := c.llmPass(ctx, state); err == nil {
			return enhance(state, r)
		} else {
			slog.Warn("Intent model call failed, using rule table",
				"session_id", state.SessionID, "error", err)
			state.AppendTrace(models.TraceEntry{
				StageName: "intent_classifier",
				Decision:  "model classification failed, falling back to rule table",
				Severity:  models.SeverityWarning,
				Error:     err.Error(),
			})
		}
	}

	return rulePass(state)
}

// patternPass scans for signals strong enough to bypass the model.
func patternPass(state *models.SharedState) (Result, bool) {
	query := strings.ToLower(state.Query)

	if _, ok := smartsheet.FindSheetURL(state.Query); ok || state.HasExternalSheet() {
		return Result{
			Intent:     SmartsheetIntegration,
			Confidence: 0.95,
			Source:     "pattern",
			Reasoning:  "external spreadsheet URL present",
		}, true
	}

	if m := rerunPattern.FindStringSubmatch(state.Query); m != nil {
		if stage := strings.ToLower(m[1]); isKnownStage(stage) {
			return Result{
				Intent:      RerunStage,
				Confidence:  0.9,
				Source:      "pattern",
				Reasoning:   "explicit re-run request for stage " + stage,
				RerunTarget: stage,
			}, true
		}
	}

	if containsAnyToken(query, exportTokens) && state.OutputPresent(models.StageEstimate) {
		return Result{
			Intent:     ExportExisting,
			Confidence: 0.9,
			Source:     "pattern",
			Reasoning:  "export request with an estimate already present",
		}, true
	}

	return Result{}, false
}

// llmPass asks the model, providing a compact context and the catalog.
func (c *Classifier) llmPass(ctx context.Context, state *models.SharedState) (Result, error) {
	sel := c.selector.Select(classifyStageName)
	state.ModelConfig.ModelName = sel.Model

	completion, err := c.caller.Complete(ctx, llm.Request{
		Prompt:       buildClassifyPrompt(state),
		SystemPrompt: classifySystemPrompt,
		Model:        sel.Model,
		Credential:   sel.Credential,
		StageName:    classifyStageName,
	})
	if err != nil {
		return Result{}, err
	}

	state.ModelConfig.TokenUsage.InputTokens += completion.Usage.InputTokens
	state.ModelConfig.TokenUsage.OutputTokens += completion.Usage.OutputTokens
	state.ModelConfig.TokenUsage.TotalTokens += completion.Usage.TotalTokens

	raw := llm.ExtractJSON(completion.Text)
	if raw == "" {
		return Result{}, fmt.Errorf("model reply contained no JSON")
	}

	var reply struct {
		PrimaryIntent       string            `json:"primary_intent"`
		Confidence          float64           `json:"confidence"`
		Reasoning           string            `json:"reasoning"`
		RecommendedSequence []string          `json:"recommended_sequence"`
		SkipReasons         map[string]string `json:"skip_reasons"`
	}
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return Result{}, fmt.Errorf("invalid intent JSON: %w", err)
	}

	label := Intent(reply.PrimaryIntent)
	if !Valid(label) {
		label = Unknown
	}
	return Result{
		Intent:              label,
		Confidence:          clamp01(reply.Confidence),
		Source:              "llm",
		Reasoning:           reply.Reasoning,
		RecommendedSequence: reply.RecommendedSequence,
		SkipReasons:         reply.SkipReasons,
	}, nil
}

// enhance applies deterministic corrections on top of the model's answer.
func enhance(state *models.SharedState, r Result) Result {
	query := strings.ToLower(state.Query)

	if state.OutputPresent(models.StageEstimate) && containsAnyToken(query, exportTokens) {
		r.Intent = ExportExisting
		if r.Confidence < 0.85 {
			r.Confidence = 0.85
		}
		r.Reasoning = "export request with an estimate already present"
	}

	if len(state.Files) == 0 && len(state.ParsedFiles) == 0 && Lookup(r.Intent).RequiresFiles {
		r.Intent = QuickEstimate
		r.Reasoning = "no documents available; downgraded to quick estimate"
	}

	if containsAnyToken(query, domainTokens) {
		r.Confidence = clamp01(r.Confidence + 0.1)
	}
	return r
}

// rulePass is the deterministic fallback keyed on which state fields are
// populated. It never fails.
func rulePass(state *models.SharedState) Result {
	query := strings.ToLower(state.Query)
	hasFiles := len(state.Files) > 0
	hasParsed := len(state.ParsedFiles) > 0

	r := Result{Source: "rule", Confidence: 0.6}
	switch {
	case state.OutputPresent(models.StageEstimate) && containsAnyToken(query, exportTokens):
		r.Intent = ExportExisting
		r.Confidence = 0.85
		r.Reasoning = "estimate present and query asks for export"
	case hasFiles || hasParsed:
		r.Intent = FullEstimation
		r.Reasoning = "documents available; running the full pipeline"
	case strings.TrimSpace(state.Query) != "":
		r.Intent = QuickEstimate
		r.Reasoning = "query only; no documents to analyze"
	default:
		r.Intent = Unknown
		r.Confidence = 0.3
		r.Reasoning = "no usable signals in the request"
	}

	if containsAnyToken(query, domainTokens) {
		r.Confidence = clamp01(r.Confidence + 0.1)
	}
	return r
}

// buildClassifyPrompt composes the compact request context plus the intent
// catalog.
func buildClassifyPrompt(state *models.SharedState) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "has_query: %t\n", strings.TrimSpace(state.Query) != "")
	if state.Query != "" {
		fmt.Fprintf(&sb, "query: %s\n", state.Query)
	}
	fmt.Fprintf(&sb, "file_count: %d\n", len(state.Files))
	if exts := fileExtensions(state.Files); len(exts) > 0 {
		fmt.Fprintf(&sb, "file_extensions: %s\n", strings.Join(exts, ", "))
	}

	var populated []string
	for _, stage := range models.CanonicalStageOrder {
		if state.OutputPresent(stage) {
			populated = append(populated, stage)
		}
	}
	fmt.Fprintf(&sb, "populated_outputs: [%s]\n", strings.Join(populated, ", "))

	sb.WriteString("\nIntent catalog:\n")
	labels := make([]string, 0, len(Catalog))
	for label := range Catalog {
		labels = append(labels, string(label))
	}
	sort.Strings(labels)
	for _, label := range labels {
		def := Catalog[label]
		fmt.Fprintf(&sb, "- %s: stages [%s]\n", label, strings.Join(def.RequiredStages, ", "))
	}
	return sb.String()
}

func fileExtensions(files []models.File) []string {
	seen := make(map[string]bool)
	var exts []string
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Name))
		if ext != "" && !seen[ext] {
			seen[ext] = true
			exts = append(exts, ext)
		}
	}
	sort.Strings(exts)
	return exts
}

func isKnownStage(name string) bool {
	for _, s := range models.CanonicalStageOrder {
		if s == name {
			return true
		}
	}
	return false
}

func containsAnyToken(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
