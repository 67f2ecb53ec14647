package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costcraft/mason/pkg/models"
)

func TestQAValidator_CleanEstimateProducesEmptyFindings(t *testing.T) {
	adapter := NewQAValidatorAdapter()
	plain := plainState(t, func(s *models.SharedState) {
		s.ScopeItems = []models.ScopeItem{{ItemID: "scope-001", TradeName: "Finishes"}}
		s.TakeoffData = []models.TakeoffEntry{{ScopeItemID: "scope-001", Quantity: 100, Unit: "SF"}}
		s.Estimate = []models.EstimateItem{
			{ID: "est-001", Quantity: 100, Unit: "SF", UnitPrice: 6.75, Total: 675},
		}
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	assert.NotNil(t, state.QAFindings, "empty findings still mean the check ran")
	assert.Empty(t, state.QAFindings)
	assert.True(t, state.OutputPresent(models.StageQA))
}

func TestQAValidator_FlagsTotalMismatch(t *testing.T) {
	adapter := NewQAValidatorAdapter()
	plain := plainState(t, func(s *models.SharedState) {
		s.Estimate = []models.EstimateItem{
			{ID: "est-001", Quantity: 10, Unit: "EA", UnitPrice: 5, Total: 55},
		}
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	require.Len(t, state.QAFindings, 1)
	assert.Equal(t, "total_mismatch", state.QAFindings[0].FindingType)
	assert.Equal(t, models.SeverityError, state.QAFindings[0].Severity)
}

func TestQAValidator_FlagsQuantityUnitAndUnpriced(t *testing.T) {
	adapter := NewQAValidatorAdapter()
	plain := plainState(t, func(s *models.SharedState) {
		s.Estimate = []models.EstimateItem{
			{ID: "est-001", Quantity: 0, Unit: "", UnitPrice: 5, Total: 0},
			{ID: "est-002", IsError: true, Notes: "no unit price available"},
		}
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	types := make(map[string]int)
	for _, f := range state.QAFindings {
		types[f.FindingType]++
	}
	assert.Equal(t, 1, types["zero_quantity"])
	assert.Equal(t, 1, types["missing_unit"])
	assert.Equal(t, 1, types["unpriced_item"])
}

func TestQAValidator_FlagsUncoveredScope(t *testing.T) {
	adapter := NewQAValidatorAdapter()
	plain := plainState(t, func(s *models.SharedState) {
		s.ScopeItems = []models.ScopeItem{
			{ItemID: "scope-001", TradeName: "Electrical"},
			{ItemID: "scope-002", TradeName: "Plumbing"},
		}
		s.TakeoffData = []models.TakeoffEntry{{ScopeItemID: "scope-001", Quantity: 1, Unit: "LS"}}
		s.Estimate = []models.EstimateItem{
			{ID: "est-001", Quantity: 1, Unit: "LS", UnitPrice: 4500, Total: 4500},
		}
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	require.Len(t, state.QAFindings, 1)
	assert.Equal(t, "uncovered_scope", state.QAFindings[0].FindingType)
	assert.Equal(t, "scope-002", state.QAFindings[0].ItemID)
}

func TestQAValidator_NoEstimateSetsError(t *testing.T) {
	adapter := NewQAValidatorAdapter()

	out, err := adapter.Invoke(context.Background(), plainState(t, nil))
	require.NoError(t, err)

	state := resultState(t, out)
	assert.Contains(t, state.Error, "no estimate")
}
