package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costcraft/mason/pkg/config"
	"github.com/costcraft/mason/pkg/llm"
	"github.com/costcraft/mason/pkg/models"
)

func TestTradeClassifier_LLMPath(t *testing.T) {
	helper := testHelper(t, `[
		{"trade_name": "Electrical", "division_code": "260000", "keywords": ["conduit"], "confidence": 0.92},
		{"trade_name": "Plumbing", "division_code": "220000", "keywords": ["pipe"], "confidence": 0.88}
	]`)
	adapter := NewTradeClassifierAdapter(helper)

	plain := plainState(t, func(s *models.SharedState) {
		s.ParsedFiles = map[string]string{"scope.txt": "run conduit and pipe through the corridor"}
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	require.Len(t, state.TradeMapping, 2)
	assert.Equal(t, "Electrical", state.TradeMapping[0].TradeName)
	assert.Equal(t, "260000", state.TradeMapping[0].DivisionCode)
	assert.Positive(t, state.ModelConfig.TokenUsage.TotalTokens)
}

func TestTradeClassifier_FallsBackToKeywords(t *testing.T) {
	adapter := NewTradeClassifierAdapter(failingHelper(t))

	plain := plainState(t, func(s *models.SharedState) {
		s.ParsedFiles = map[string]string{
			"scope.txt": "Install new electrical panel and wiring. Replace drywall in unit 4. HVAC ductwork rerouting.",
		}
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	assert.Empty(t, state.Error)

	divisions := make([]string, len(state.TradeMapping))
	for i, m := range state.TradeMapping {
		divisions[i] = m.DivisionCode
	}
	assert.Equal(t, []string{"090000", "230000", "260000"}, divisions, "finishes, HVAC, electrical in division order")

	// The fallback decision is visible in the trace.
	var sawFallback bool
	for _, e := range state.Trace {
		if e.Severity == models.SeverityWarning && e.StageName == models.StageClassifyTrades {
			sawFallback = true
		}
	}
	assert.True(t, sawFallback)
}

func TestTradeClassifier_GarbageLLMReplyFallsBack(t *testing.T) {
	adapter := NewTradeClassifierAdapter(testHelper(t, "I think this is mostly plumbing work."))

	plain := plainState(t, func(s *models.SharedState) {
		s.ParsedFiles = map[string]string{"scope.txt": "replace plumbing fixture and drain"}
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	require.Len(t, state.TradeMapping, 1)
	assert.Equal(t, "220000", state.TradeMapping[0].DivisionCode)
}

func TestTradeClassifier_NoParsedTextSetsError(t *testing.T) {
	adapter := NewTradeClassifierAdapter(nil)

	out, err := adapter.Invoke(context.Background(), plainState(t, nil))
	require.NoError(t, err)

	state := resultState(t, out)
	assert.Contains(t, state.Error, "no parsed document text")
}

func TestTradeClassifier_NoTradesFoundSetsError(t *testing.T) {
	adapter := NewTradeClassifierAdapter(nil)

	plain := plainState(t, func(s *models.SharedState) {
		s.ParsedFiles = map[string]string{"memo.txt": "meeting notes about scheduling"}
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	assert.Contains(t, state.Error, "no construction trades")
}

func TestTradeClassifier_MissingCredentialIsNotAbsorbed(t *testing.T) {
	// A route with no resolvable credential must surface the failure
	// instead of quietly degrading to keywords.
	defaults := &config.StageRoutes{
		Routes: []config.ModelRoute{
			{Model: "claude-3-5-haiku-20241022", APIKeyEnvs: []string{"STAGE_TEST_ABSENT_KEY"}},
		},
	}
	selector := llm.NewSelector(config.NewRoutingRegistry(map[string]*config.StageRoutes{}, defaults))
	transport := llm.TransportFunc(func(_ context.Context, _ llm.CompletionRequest) (llm.Completion, error) {
		t.Fatal("transport must not be reached without a credential")
		return llm.Completion{}, nil
	})
	adapter := NewTradeClassifierAdapter(NewHelper(selector, llm.NewCaller(transport, selector, 1)))

	plain := plainState(t, func(s *models.SharedState) {
		s.ParsedFiles = map[string]string{"scope.txt": "run conduit through the corridor"}
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	assert.Contains(t, state.Error, "missing_credential")
	assert.Empty(t, state.TradeMapping)
}
