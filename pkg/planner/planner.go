// Package planner converts a classified intent plus the current state into
// an ordered stage sequence, skipping stages whose output already exists
// fresh.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/costcraft/mason/pkg/intent"
	"github.com/costcraft/mason/pkg/models"
)

// upstream maps each stage to the stage whose output feeds it directly.
// Stages keyed to "" take their input from the request itself.
var upstream = map[string]string{
	models.StageSmartsheet:     "",
	models.StageParse:          "",
	models.StageClassifyTrades: models.StageParse,
	models.StageExtractScope:   models.StageClassifyTrades,
	models.StageTakeoff:        models.StageExtractScope,
	models.StageEstimate:       models.StageTakeoff,
	models.StageQA:             models.StageEstimate,
	models.StageExport:         models.StageEstimate,
}

// exportTokens mirror the classifier's export signals; a query carrying one
// pins the exporter into the plan.
var exportTokens = []string{"export", "download", "save"}

// SkippedStage records one stage left out of the sequence and why.
type SkippedStage struct {
	Stage      string  `json:"stage"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// Plan is the planner's output: what to run, what was skipped, and the
// classification that drove the decision.
type Plan struct {
	Sequence   []string       `json:"sequence"`
	Skipped    []SkippedStage `json:"skipped"`
	Intent     intent.Intent  `json:"intent"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`

	// OptimizationApplied is true when at least one stage was skipped
	// because its output was already fresh.
	OptimizationApplied bool `json:"optimization_applied"`

	// RerunTarget carries the forced stage for re-run requests.
	RerunTarget string `json:"rerun_target,omitempty"`
}

// Planner plans stage sequences. It owns the classifier: planning starts by
// classifying the request.
type Planner struct {
	classifier *intent.Classifier
}

// New creates a planner around the given classifier.
func New(classifier *intent.Classifier) *Planner {
	return &Planner{classifier: classifier}
}

// PlanRoute classifies the request and emits the ordered stage sequence.
// registered is the set of stage names with adapters available; stages
// outside it never enter the sequence. PlanRoute always returns a usable
// plan — on classification trouble it degrades to the full pipeline.
func (p *Planner) PlanRoute(ctx context.Context, state *models.SharedState, registered []string) Plan {
	decision := p.classifier.Classify(ctx, state)

	if decision.Intent == intent.Unknown || decision.Confidence < intent.Lookup(decision.Intent).Threshold {
		return p.fallback(state, registered, fmt.Sprintf(
			"classification unreliable (intent=%s confidence=%.2f), running the full pipeline",
			decision.Intent, decision.Confidence))
	}

	if decision.Intent == intent.RerunStage {
		if decision.RerunTarget == "" || !contains(registered, decision.RerunTarget) {
			return p.fallback(state, registered, "re-run request without a resolvable target stage")
		}
		return p.planRerun(state, registered, decision)
	}

	def := intent.Lookup(decision.Intent)
	candidates := orderCanonically(append(append([]string{}, def.RequiredStages...), def.OptionalStages...))
	candidates = intersect(candidates, registered)
	if len(candidates) == 0 {
		return p.fallback(state, registered, "no registered stages can serve intent "+string(decision.Intent))
	}

	plan := Plan{
		Intent:     decision.Intent,
		Confidence: decision.Confidence,
		Reasoning:  decision.Reasoning,
	}

	wantsExport := containsAnyToken(strings.ToLower(state.Query), exportTokens)
	inSequence := make(map[string]bool)

	for _, stage := range candidates {
		skip, reason := p.skipDecision(state, stage, wantsExport)
		if skip {
			plan.Skipped = append(plan.Skipped, SkippedStage{Stage: stage, Reason: reason, Confidence: decision.Confidence})
			if strings.Contains(reason, "fresh") {
				plan.OptimizationApplied = true
			}
			continue
		}
		inSequence[stage] = true
	}

	// Dependency closure: pull in absent ancestors of everything that runs.
	for stage := range inSequence {
		for dep := upstream[stage]; dep != ""; dep = upstream[dep] {
			if !state.OutputPresent(dep) && !inSequence[dep] && contains(registered, dep) {
				inSequence[dep] = true
			}
		}
	}

	plan.Sequence = orderCanonicallySet(inSequence)
	plan.Skipped = append(plan.Skipped, notRequiredSkips(decision, candidates, registered, inSequence)...)

	slog.Info("Route planned",
		"session_id", state.SessionID,
		"intent", plan.Intent,
		"sequence", plan.Sequence,
		"skipped", len(plan.Skipped),
		"optimization_applied", plan.OptimizationApplied)
	return plan
}

// skipDecision applies the per-stage skip policy.
func (p *Planner) skipDecision(state *models.SharedState, stage string, wantsExport bool) (bool, string) {
	if stage == models.StageExport {
		if wantsExport {
			return false, ""
		}
		if !state.OutputPresent(models.StageEstimate) {
			return true, "no estimate to export yet"
		}
	}

	if !state.OutputPresent(stage) {
		return false, ""
	}

	dep := upstream[stage]
	if dep != "" && !state.OutputPresent(dep) {
		// Orphaned output: its input vanished, regenerate.
		return false, ""
	}
	return true, "output already present and fresh"
}

// planRerun forces the target stage to run, prepending any absent ancestors.
func (p *Planner) planRerun(state *models.SharedState, registered []string, decision intent.Result) Plan {
	inSequence := map[string]bool{decision.RerunTarget: true}
	for dep := upstream[decision.RerunTarget]; dep != ""; dep = upstream[dep] {
		if !state.OutputPresent(dep) && contains(registered, dep) {
			inSequence[dep] = true
		}
	}

	return Plan{
		Sequence:    orderCanonicallySet(inSequence),
		Intent:      intent.RerunStage,
		Confidence:  decision.Confidence,
		Reasoning:   "re-running stage " + decision.RerunTarget,
		RerunTarget: decision.RerunTarget,
	}
}

// fallback is the safe degradation: the full canonical pipeline intersected
// with the registered stages. The smartsheet stage joins only when an
// external sheet is attached, the exporter only on an explicit export
// request.
func (p *Planner) fallback(state *models.SharedState, registered []string, reason string) Plan {
	stages := []string{
		models.StageParse, models.StageClassifyTrades, models.StageExtractScope,
		models.StageTakeoff, models.StageEstimate, models.StageQA,
	}
	if state.HasExternalSheet() {
		stages = append([]string{models.StageSmartsheet}, stages...)
	}
	if containsAnyToken(strings.ToLower(state.Query), exportTokens) {
		stages = append(stages, models.StageExport)
	}

	state.AppendTrace(models.TraceEntry{
		StageName: "planner",
		Decision:  "safe fallback plan: " + reason,
		Severity:  models.SeverityWarning,
	})

	return Plan{
		Sequence:   intersect(stages, registered),
		Intent:     intent.FullEstimation,
		Confidence: 0.5,
		Reasoning:  reason,
	}
}

// notRequiredSkips records the canonical stages the intent never asked for,
// so the skip list plus the sequence covers the whole pipeline. Stages the
// dependency closure pulled into the sequence are not skips.
func notRequiredSkips(decision intent.Result, candidates, registered []string, inSequence map[string]bool) []SkippedStage {
	candidate := make(map[string]bool, len(candidates))
	for _, s := range candidates {
		candidate[s] = true
	}

	var skips []SkippedStage
	for _, stage := range models.CanonicalStageOrder {
		if !candidate[stage] && !inSequence[stage] && contains(registered, stage) {
			skips = append(skips, SkippedStage{
				Stage:      stage,
				Reason:     "not required for intent " + string(decision.Intent),
				Confidence: decision.Confidence,
			})
		}
	}
	return skips
}

func orderCanonically(stages []string) []string {
	set := make(map[string]bool, len(stages))
	for _, s := range stages {
		set[s] = true
	}
	return orderCanonicallySet(set)
}

func orderCanonicallySet(set map[string]bool) []string {
	ordered := make([]string, 0, len(set))
	for _, s := range models.CanonicalStageOrder {
		if set[s] {
			ordered = append(ordered, s)
		}
	}
	return ordered
}

func intersect(stages, registered []string) []string {
	allowed := make(map[string]bool, len(registered))
	for _, s := range registered {
		allowed[s] = true
	}
	var out []string
	for _, s := range stages {
		if allowed[s] {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
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
