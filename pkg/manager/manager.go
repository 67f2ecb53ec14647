// Package manager orchestrates one estimation request end to end: intake,
// route planning, sequential stage execution with readiness checks and
// failure recovery, and final output presentation.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/costcraft/mason/pkg/events"
	"github.com/costcraft/mason/pkg/intent"
	"github.com/costcraft/mason/pkg/llm"
	"github.com/costcraft/mason/pkg/models"
	"github.com/costcraft/mason/pkg/planner"
	"github.com/costcraft/mason/pkg/smartsheet"
	"github.com/costcraft/mason/pkg/stage"
)

const (
	// DefaultStageTimeout bounds a single adapter invocation.
	DefaultStageTimeout = 120 * time.Second

	// DefaultRequestTimeout bounds the whole request.
	DefaultRequestTimeout = 15 * time.Minute
)

// criticalSubstrings mark a stage error as unrecoverable. Matched
// case-insensitively against state.Error.
var criticalSubstrings = []string{
	"api key", "authentication", "authorization", "critical", "missing_credential",
}

// Manager runs the pipeline. One Process call owns its state exclusively;
// a single Manager serves many sessions concurrently because it holds no
// per-request fields.
type Manager struct {
	planner   *planner.Planner
	registry  *stage.Registry
	selector  *llm.Selector
	publisher *events.Publisher

	stageTimeout   time.Duration
	requestTimeout time.Duration
}

// Option adjusts manager construction.
type Option func(*Manager)

// WithStageTimeout overrides the per-stage deadline.
func WithStageTimeout(d time.Duration) Option {
	return func(m *Manager) { m.stageTimeout = d }
}

// WithRequestTimeout overrides the whole-request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Manager) { m.requestTimeout = d }
}

// New creates a manager over the given planner, adapter registry, model
// selector, and event publisher.
func New(p *planner.Planner, registry *stage.Registry, selector *llm.Selector, publisher *events.Publisher, opts ...Option) *Manager {
	m := &Manager{
		planner:        p,
		registry:       registry,
		selector:       selector,
		publisher:      publisher,
		stageTimeout:   DefaultStageTimeout,
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Process runs one request to completion and returns the same state,
// mutated. It never panics a request away: every outcome lands in
// state.Status, state.Error, and the trace.
func (m *Manager) Process(ctx context.Context, state *models.SharedState) *models.SharedState {
	ctx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()

	if !m.intake(state) {
		return state
	}

	plan := m.planRoute(ctx, state)

	if halted := m.execute(ctx, state, plan); halted {
		return state
	}

	m.finish(state)
	return state
}

// intake acknowledges the inputs. Returns false when there is nothing to
// work with and the request parks awaiting user input.
func (m *Manager) intake(state *models.SharedState) bool {
	if len(state.Files) == 0 && strings.TrimSpace(state.Query) == "" && !state.HasExternalSheet() {
		state.PendingUserAction = "Upload project documents, paste a sheet link, or describe what you need estimated."
		state.SetStatus(models.StatusAwaitingUser)
		state.AppendTrace(models.TraceEntry{
			StageName: "manager",
			Decision:  "no files, query, or sheet link provided; awaiting user input",
		})
		m.publisher.PublishUserDecisionNeeded(state.SessionID, events.UserDecisionNeededPayload{
			Question: state.PendingUserAction,
		})
		m.publisher.PublishWorkflowStateChange(state.SessionID, events.WorkflowStateChangePayload{
			Status: string(models.StatusAwaitingUser),
		})
		return false
	}

	if url, ok := smartsheet.FindSheetURL(state.Query); ok && !state.HasExternalSheet() {
		if id, ok := smartsheet.ExtractSheetID(url); ok {
			state.Metadata[models.MetaExternalSheetID] = id
			state.AppendTrace(models.TraceEntry{
				StageName: "manager",
				Decision:  "detected external sheet link, attached sheet id " + id,
			})
		}
	}

	slog.Info("Request received",
		"session_id", state.SessionID,
		"file_count", len(state.Files),
		"has_query", strings.TrimSpace(state.Query) != "",
		"external_sheet", state.HasExternalSheet())

	state.SetStatus(models.StatusClassifying)
	return true
}

// planRoute invokes the planner and records the decision.
func (m *Manager) planRoute(ctx context.Context, state *models.SharedState) planner.Plan {
	plan := m.planner.PlanRoute(ctx, state, m.registry.Names())
	state.SetStatus(models.StatusPlanning)

	var skipped []string
	for _, s := range plan.Skipped {
		skipped = append(skipped, s.Stage)
	}
	if len(skipped) > 0 {
		stagesSkipped.WithLabelValues("planned").Add(float64(len(skipped)))
	}
	state.AppendTrace(models.TraceEntry{
		StageName: "manager",
		Decision: fmt.Sprintf("planned route for intent %s: run [%s], skip [%s]",
			plan.Intent, strings.Join(plan.Sequence, ", "), strings.Join(skipped, ", ")),
	})
	state.AppendNarrative("manager", planNarrative(plan))

	m.publisher.PublishWorkflowStateChange(state.SessionID, events.WorkflowStateChangePayload{
		Status:       string(models.StatusPlanning),
		Pipeline:     plan.Sequence,
		SkippedSteps: skipped,
		Detail:       plan.Reasoning,
	})
	return plan
}

// execute runs the planned sequence. Returns true when the pipeline halted
// on a critical failure or a terminal cancellation.
func (m *Manager) execute(ctx context.Context, state *models.SharedState, plan planner.Plan) bool {
	state.SetStatus(models.StatusRunning)
	total := len(plan.Sequence)

	for i, stageName := range plan.Sequence {
		if ctx.Err() != nil {
			return m.terminate(state, stageName, ctx.Err())
		}

		m.publisher.PublishManagerThinking(state.SessionID, events.ManagerThinkingPayload{
			Stage:   stageName,
			Thought: fmt.Sprintf("Running %s (%d of %d) for intent %s", stageName, i+1, total, plan.Intent),
		})

		model := m.selector.Select(stageName).Model
		m.publisher.PublishBrainAllocation(state.SessionID, events.BrainAllocationPayload{
			Stage:     stageName,
			Model:     model,
			Reasoning: "route configured for this stage",
		})

		adapter, ok := m.registry.Get(stageName)
		if !ok {
			stagesSkipped.WithLabelValues("unregistered").Inc()
			state.AppendTrace(models.TraceEntry{
				StageName: stageName,
				Decision:  "no adapter registered, stage skipped",
				Severity:  models.SeverityWarning,
			})
			continue
		}

		if required := adapter.RequiredInput(); required != "" && !inputPresent(state, required) {
			stagesSkipped.WithLabelValues("readiness").Inc()
			state.AppendTrace(models.TraceEntry{
				StageName: stageName,
				Decision:  fmt.Sprintf("required input %q missing, stage skipped", required),
				Severity:  models.SeverityWarning,
				Error:     "readiness check failed",
			})
			continue
		}

		state.AppendTrace(models.TraceEntry{
			StageName: stageName,
			Decision:  "invoking stage adapter",
			ModelUsed: model,
		})

		narrativeBefore := len(state.Narrative)
		if halted := m.invoke(ctx, state, plan, stageName, adapter); halted {
			return true
		}

		m.publisher.PublishAgentSubstep(state.SessionID, events.AgentSubstepPayload{
			Stage:       stageName,
			Substep:     "completed",
			ProgressPct: float64(i+1) / float64(total) * 100,
		})

		if state.Error != "" {
			if isCritical(state.Error) {
				return m.halt(state, stageName, state.Error)
			}
			m.recover(state, stageName)
			continue
		}

		// Stepwise presentation: if the adapter said nothing human-facing,
		// the manager summarizes what changed.
		if len(state.Narrative) == narrativeBefore {
			state.AppendNarrative(stageName, stageSummary(state, stageName))
		}
	}
	return false
}

// invoke runs one adapter under the stage deadline and merges its output.
// Returns true when the pipeline must halt.
func (m *Manager) invoke(ctx context.Context, state *models.SharedState, plan planner.Plan, stageName string, adapter stage.Adapter) bool {
	plain, err := state.ToPlain()
	if err != nil {
		return m.halt(state, stageName, "critical: failed to serialize state: "+err.Error())
	}

	stageCtx, cancel := context.WithTimeout(ctx, m.stageTimeout)
	start := time.Now()
	out, err := adapter.Invoke(stageCtx, plain)
	cancel()
	stagesRun.WithLabelValues(stageName).Inc()
	stageDuration.WithLabelValues(stageName).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return m.terminate(state, stageName, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			if intent.Lookup(plan.Intent).EssentialStages[stageName] {
				return m.halt(state, stageName, fmt.Sprintf("critical: essential stage %s timed out", stageName))
			}
			state.AppendTrace(models.TraceEntry{
				StageName: stageName,
				Decision:  "stage deadline expired, continuing without its output",
				Severity:  models.SeverityWarning,
				Error:     err.Error(),
			})
			m.publisher.PublishErrorRecovery(state.SessionID, events.ErrorRecoveryPayload{
				Stage:  stageName,
				Error:  err.Error(),
				Action: "continued with remaining stages",
			})
			return false
		}
		// Unhandled adapter failure: critical by contract.
		return m.halt(state, stageName, err.Error())
	}

	if err := state.MergePlain(out); err != nil {
		return m.halt(state, stageName, "critical: failed to merge stage output: "+err.Error())
	}
	return false
}

// recover clears a non-critical stage error and moves on.
func (m *Manager) recover(state *models.SharedState, stageName string) {
	errText := state.Error
	slog.Warn("Stage reported a recoverable error",
		"session_id", state.SessionID, "stage", stageName, "error", errText)

	state.AppendTrace(models.TraceEntry{
		StageName: stageName,
		Decision:  "recovered from non-critical stage error, continuing",
		Severity:  models.SeverityWarning,
		Error:     errText,
	})
	m.publisher.PublishErrorRecovery(state.SessionID, events.ErrorRecoveryPayload{
		Stage:  stageName,
		Error:  errText,
		Action: "continued with remaining stages",
	})
	state.ClearError()
}

// halt stops the pipeline on a critical failure. Partial results stay on
// the state.
func (m *Manager) halt(state *models.SharedState, stageName, errText string) bool {
	slog.Error("Pipeline halted",
		"session_id", state.SessionID, "stage", stageName, "error", errText)

	state.SetError(errText)
	state.AppendTrace(models.TraceEntry{
		StageName: stageName,
		Decision:  "critical failure, pipeline halted",
		Severity:  models.SeverityError,
		Error:     errText,
	})
	state.SetStatus(models.StatusError)
	m.publisher.PublishWorkflowStateChange(state.SessionID, events.WorkflowStateChangePayload{
		Status:       string(models.StatusError),
		CurrentStage: stageName,
		Detail:       errText,
	})
	return true
}

// terminate ends the request on cancellation or the request deadline.
func (m *Manager) terminate(state *models.SharedState, stageName string, cause error) bool {
	errText := "request ended: " + cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		errText = "request deadline exceeded"
	}
	return m.halt(state, stageName, errText)
}

// finish closes out a successful run and lists the available export formats.
func (m *Manager) finish(state *models.SharedState) {
	var formats []string
	if len(state.Estimate) > 0 {
		formats = []string{"json", "xlsx"}
	}

	state.SetStatus(models.StatusOutputReady)
	state.AppendTrace(models.TraceEntry{
		StageName: "manager",
		Decision:  "pipeline complete, formats available: " + strings.Join(formats, ", "),
	})
	if len(formats) > 0 && state.ExportedFile == nil {
		state.AppendNarrative("manager",
			"Results are ready. The estimate can be exported as "+strings.Join(formats, " or ")+".")
	} else {
		state.AppendNarrative("manager", "Results are ready.")
	}

	m.publisher.PublishWorkflowStateChange(state.SessionID, events.WorkflowStateChangePayload{
		Status: string(models.StatusOutputReady),
	})
}

// inputPresent checks the readiness of a stage's declared input field using
// the plain-field names of the state contract.
func inputPresent(state *models.SharedState, field string) bool {
	switch field {
	case "files":
		return len(state.Files) > 0
	case "parsed_files":
		return len(state.ParsedFiles) > 0
	case "trade_mapping":
		return len(state.TradeMapping) > 0
	case "scope_items":
		return len(state.ScopeItems) > 0
	case "takeoff_data":
		return len(state.TakeoffData) > 0
	case "estimate":
		return len(state.Estimate) > 0
	case "qa_findings":
		return state.QAFindings != nil
	case "query":
		return strings.TrimSpace(state.Query) != ""
	}
	v, ok := state.Metadata[field]
	return ok && v != nil
}

// isCritical classifies a stage error by substring.
func isCritical(errText string) bool {
	lower := strings.ToLower(errText)
	for _, s := range criticalSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// planNarrative is the human line describing the plan.
func planNarrative(plan planner.Plan) string {
	if len(plan.Sequence) == 0 {
		return "Nothing to run; everything requested is already available."
	}
	msg := fmt.Sprintf("Planned %d step(s): %s", len(plan.Sequence), strings.Join(plan.Sequence, " → "))
	if plan.OptimizationApplied {
		msg += " (reusing earlier results where still fresh)"
	}
	return msg
}

// stageSummary synthesizes a fallback narrative line for a stage that
// produced output silently.
func stageSummary(state *models.SharedState, stageName string) string {
	switch stageName {
	case models.StageSmartsheet:
		return "Synced with the external sheet."
	case models.StageParse:
		return fmt.Sprintf("Parsed %d document(s).", len(state.ParsedFiles))
	case models.StageClassifyTrades:
		return fmt.Sprintf("Identified %d construction trade(s).", len(state.TradeMapping))
	case models.StageExtractScope:
		return fmt.Sprintf("Extracted %d scope item(s).", len(state.ScopeItems))
	case models.StageTakeoff:
		return fmt.Sprintf("Measured quantities for %d scope item(s).", len(state.TakeoffData))
	case models.StageEstimate:
		return fmt.Sprintf("Priced %d line item(s).", len(state.Estimate))
	case models.StageQA:
		return fmt.Sprintf("Quality review finished with %d finding(s).", len(state.QAFindings))
	case models.StageExport:
		if state.ExportedFile != nil {
			return "Exported the estimate as " + state.ExportedFile.Name + "."
		}
		return "Export finished."
	}
	return "Completed " + stageName + "."
}
