package stage

import (
	"context"
	"fmt"
	"math"

	"github.com/costcraft/mason/pkg/models"
)

// QAValidatorAdapter cross-checks the estimate against the takeoff and
// scope. Purely deterministic: arithmetic and referential integrity, not
// judgment calls. An empty findings list is still a produced output —
// "checked, nothing wrong" differs from "never checked".
type QAValidatorAdapter struct{}

// NewQAValidatorAdapter creates the estimate validation stage.
func NewQAValidatorAdapter() *QAValidatorAdapter {
	return &QAValidatorAdapter{}
}

func (a *QAValidatorAdapter) Name() string { return models.StageQA }

func (a *QAValidatorAdapter) RequiredInput() string { return "estimate" }

func (a *QAValidatorAdapter) Invoke(_ context.Context, plain map[string]any) (map[string]any, error) {
	state, err := loadState(plain)
	if err != nil {
		return nil, err
	}

	if len(state.Estimate) == 0 {
		state.RecordError(models.StageQA, "no estimate available to validate")
		return saveState(state)
	}

	takeoffByID := make(map[string]models.TakeoffEntry, len(state.TakeoffData))
	for _, entry := range state.TakeoffData {
		takeoffByID[entry.ScopeItemID] = entry
	}

	findings := make([]models.QAFinding, 0)
	for _, item := range state.Estimate {
		if item.IsError {
			findings = append(findings, models.QAFinding{
				ItemID:      item.ID,
				FindingType: "unpriced_item",
				Message:     fmt.Sprintf("line %s has no unit price: %s", item.ID, item.Notes),
				Severity:    models.SeverityWarning,
			})
			continue
		}

		expected := models.RoundCurrency(item.Quantity * item.UnitPrice)
		if math.Abs(item.Total-expected) > 0.005 {
			findings = append(findings, models.QAFinding{
				ItemID:      item.ID,
				FindingType: "total_mismatch",
				Message:     fmt.Sprintf("line %s total %.2f does not equal quantity x unit price (%.2f)", item.ID, item.Total, expected),
				Severity:    models.SeverityError,
			})
		}
		if item.Quantity <= 0 {
			findings = append(findings, models.QAFinding{
				ItemID:      item.ID,
				FindingType: "zero_quantity",
				Message:     fmt.Sprintf("line %s has non-positive quantity %.2f", item.ID, item.Quantity),
				Severity:    models.SeverityWarning,
			})
		}
		if item.Unit == "" {
			findings = append(findings, models.QAFinding{
				ItemID:      item.ID,
				FindingType: "missing_unit",
				Message:     fmt.Sprintf("line %s has no unit of measure", item.ID),
				Severity:    models.SeverityWarning,
			})
		}
	}

	// Scope items that never made it into the estimate.
	estimatedScope := make(map[string]bool, len(state.TakeoffData))
	for _, entry := range state.TakeoffData {
		estimatedScope[entry.ScopeItemID] = true
	}
	for _, item := range state.ScopeItems {
		if !estimatedScope[item.ItemID] {
			findings = append(findings, models.QAFinding{
				ItemID:      item.ItemID,
				FindingType: "uncovered_scope",
				Message:     fmt.Sprintf("scope item %s (%s) has no takeoff or estimate line", item.ItemID, item.TradeName),
				Severity:    models.SeverityWarning,
			})
		}
	}

	state.QAFindings = findings
	state.AppendTrace(models.TraceEntry{
		StageName: models.StageQA,
		Decision:  fmt.Sprintf("validated %d estimate line(s), %d finding(s)", len(state.Estimate), len(findings)),
	})
	state.AppendNarrative(models.StageQA,
		fmt.Sprintf("Validated the estimate: %d finding(s)", len(findings)))

	return saveState(state)
}
