package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costcraft/mason/pkg/models"
)

func TestScopeExtractor_LLMPath(t *testing.T) {
	helper := testHelper(t, `[
		{"trade_name": "Electrical", "division_code": "260000", "description": "Run 450 LF of conduit", "work_type": "install", "unit_hint": "LF"},
		{"trade_name": "Electrical", "division_code": "260000", "description": "Terminate panel feeders", "work_type": "install"}
	]`)
	adapter := NewScopeExtractorAdapter(helper)

	plain := plainState(t, func(s *models.SharedState) {
		s.ParsedFiles = map[string]string{"plans.txt": "conduit runs per drawing E-101"}
		s.TradeMapping = []models.TradeMapping{
			{TradeName: "Electrical", DivisionCode: "260000", Keywords: []string{"conduit"}},
		}
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	require.Len(t, state.ScopeItems, 2)
	assert.Equal(t, "scope-001", state.ScopeItems[0].ItemID)
	assert.Equal(t, "scope-002", state.ScopeItems[1].ItemID)
	assert.Equal(t, "Run 450 LF of conduit", state.ScopeItems[0].Description)
}

func TestScopeExtractor_FallsBackToLineMatching(t *testing.T) {
	adapter := NewScopeExtractorAdapter(failingHelper(t))

	plain := plainState(t, func(s *models.SharedState) {
		s.ParsedFiles = map[string]string{
			"plans.txt": "Run 450 LF of electrical conduit\nInstall 1,200 SF of drywall\nSchedule kickoff meeting",
		}
		s.TradeMapping = []models.TradeMapping{
			{TradeName: "Electrical", DivisionCode: "260000", Keywords: []string{"conduit"}},
			{TradeName: "Finishes", DivisionCode: "090000", Keywords: []string{"drywall"}},
		}
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	assert.Empty(t, state.Error)
	require.Len(t, state.ScopeItems, 2)
	assert.Equal(t, "260000", state.ScopeItems[0].DivisionCode)
	assert.Equal(t, "090000", state.ScopeItems[1].DivisionCode)
	assert.Equal(t, "plans.txt", state.ScopeItems[0].SourceFile)

	var sawFallback bool
	for _, e := range state.Trace {
		if e.Severity == models.SeverityWarning && e.StageName == models.StageExtractScope {
			sawFallback = true
		}
	}
	assert.True(t, sawFallback)
}

func TestScopeExtractor_DuplicateLinesCollapse(t *testing.T) {
	adapter := NewScopeExtractorAdapter(nil)

	plain := plainState(t, func(s *models.SharedState) {
		s.ParsedFiles = map[string]string{
			"plans.txt": "install conduit\ninstall conduit\nInstall Conduit",
		}
		s.TradeMapping = []models.TradeMapping{
			{TradeName: "Electrical", DivisionCode: "260000", Keywords: []string{"conduit"}},
		}
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	assert.Len(t, state.ScopeItems, 1)
}

func TestScopeExtractor_NoTradeMappingSetsError(t *testing.T) {
	adapter := NewScopeExtractorAdapter(nil)

	out, err := adapter.Invoke(context.Background(), plainState(t, nil))
	require.NoError(t, err)

	state := resultState(t, out)
	assert.Contains(t, state.Error, "no trade mapping")
}

func TestScopeExtractor_NoMatchingLinesSetsError(t *testing.T) {
	adapter := NewScopeExtractorAdapter(nil)

	plain := plainState(t, func(s *models.SharedState) {
		s.ParsedFiles = map[string]string{"memo.txt": "meeting notes about scheduling"}
		s.TradeMapping = []models.TradeMapping{
			{TradeName: "Electrical", DivisionCode: "260000", Keywords: []string{"conduit"}},
		}
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	assert.Contains(t, state.Error, "no scope items")
}
