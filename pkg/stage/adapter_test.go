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

// fakeAdapter is a no-op adapter for registry tests.
type fakeAdapter struct {
	name  string
	input string
}

func (f *fakeAdapter) Name() string          { return f.name }
func (f *fakeAdapter) RequiredInput() string { return f.input }
func (f *fakeAdapter) Invoke(_ context.Context, plain map[string]any) (map[string]any, error) {
	return plain, nil
}

// testHelper builds a Helper whose model always replies with the given
// text.
func testHelper(t *testing.T, reply string) *Helper {
	t.Helper()
	t.Setenv("STAGE_TEST_KEY", "sk-test")

	defaults := &config.StageRoutes{
		Routes: []config.ModelRoute{
			{Model: "claude-3-5-haiku-20241022", APIKeyEnvs: []string{"STAGE_TEST_KEY"}},
		},
	}
	selector := llm.NewSelector(config.NewRoutingRegistry(map[string]*config.StageRoutes{}, defaults))
	transport := llm.TransportFunc(func(_ context.Context, _ llm.CompletionRequest) (llm.Completion, error) {
		return llm.Completion{Text: reply, Usage: models.TokenUsage{InputTokens: 5, OutputTokens: 5, TotalTokens: 10}}, nil
	})
	return NewHelper(selector, llm.NewCaller(transport, selector, 1))
}

// failingHelper builds a Helper whose model always fails.
func failingHelper(t *testing.T) *Helper {
	t.Helper()
	t.Setenv("STAGE_TEST_KEY", "sk-test")

	defaults := &config.StageRoutes{
		Routes: []config.ModelRoute{
			{Model: "claude-3-5-haiku-20241022", APIKeyEnvs: []string{"STAGE_TEST_KEY"}},
		},
	}
	selector := llm.NewSelector(config.NewRoutingRegistry(map[string]*config.StageRoutes{}, defaults))
	transport := llm.TransportFunc(func(_ context.Context, _ llm.CompletionRequest) (llm.Completion, error) {
		return llm.Completion{}, assert.AnError
	})
	return NewHelper(selector, llm.NewCaller(transport, selector, 1))
}

// plainState builds a plain-map state for adapter invocation.
func plainState(t *testing.T, mutate func(*models.SharedState)) map[string]any {
	t.Helper()
	state := models.NewSharedState("sess-test")
	if mutate != nil {
		mutate(state)
	}
	plain, err := state.ToPlain()
	require.NoError(t, err)
	return plain
}

// resultState reconstructs typed state from an adapter's returned plain map.
func resultState(t *testing.T, plain map[string]any) *models.SharedState {
	t.Helper()
	state, err := models.FromPlain(plain)
	require.NoError(t, err)
	return state
}

func TestRegistry(t *testing.T) {
	t.Run("preserves registration order", func(t *testing.T) {
		r, err := NewRegistry(
			&fakeAdapter{name: models.StageParse, input: "files"},
			&fakeAdapter{name: models.StageClassifyTrades, input: "parsed_files"},
		)
		require.NoError(t, err)
		assert.Equal(t, []string{models.StageParse, models.StageClassifyTrades}, r.Names())
		assert.Equal(t, 2, r.Len())

		a, ok := r.Get(models.StageParse)
		require.True(t, ok)
		assert.Equal(t, "files", a.RequiredInput())
		assert.True(t, r.Has(models.StageClassifyTrades))
		assert.False(t, r.Has("nope"))
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		_, err := NewRegistry(
			&fakeAdapter{name: models.StageParse},
			&fakeAdapter{name: models.StageParse},
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("rejects empty names", func(t *testing.T) {
		_, err := NewRegistry(&fakeAdapter{name: ""})
		require.Error(t, err)
	})
}
