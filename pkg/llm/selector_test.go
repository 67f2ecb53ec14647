package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costcraft/mason/pkg/config"
)

func testRegistry() *config.RoutingRegistry {
	stages := map[string]*config.StageRoutes{
		"classify_trades": {
			Routes: []config.ModelRoute{
				{Model: "claude-sonnet-4-20250514", APIKeyEnvs: []string{"TEST_KEY_PRIMARY", "TEST_KEY_SHARED"}},
				{Model: "claude-3-5-haiku-20241022", APIKeyEnvs: []string{"TEST_KEY_FALLBACK", "TEST_KEY_SHARED"}},
			},
		},
	}
	defaults := &config.StageRoutes{
		Routes: []config.ModelRoute{
			{Model: "claude-3-5-haiku-20241022", APIKeyEnvs: []string{"TEST_KEY_SHARED"}},
		},
	}
	return config.NewRoutingRegistry(stages, defaults)
}

func TestSelectorSelect(t *testing.T) {
	t.Run("resolves first route with first non-empty env var", func(t *testing.T) {
		t.Setenv("TEST_KEY_PRIMARY", "sk-primary")
		t.Setenv("TEST_KEY_SHARED", "sk-shared")

		sel := NewSelector(testRegistry()).Select("classify_trades")
		assert.Equal(t, "claude-sonnet-4-20250514", sel.Model)
		assert.Equal(t, "sk-primary", sel.Credential)
		assert.Equal(t, "TEST_KEY_PRIMARY", sel.CredentialSource)
	})

	t.Run("falls through env var order", func(t *testing.T) {
		t.Setenv("TEST_KEY_PRIMARY", "")
		t.Setenv("TEST_KEY_SHARED", "sk-shared")

		sel := NewSelector(testRegistry()).Select("classify_trades")
		assert.Equal(t, "sk-shared", sel.Credential)
		assert.Equal(t, "TEST_KEY_SHARED", sel.CredentialSource)
	})

	t.Run("unknown stage uses default routes", func(t *testing.T) {
		t.Setenv("TEST_KEY_SHARED", "sk-shared")

		sel := NewSelector(testRegistry()).Select("takeoff")
		assert.Equal(t, "claude-3-5-haiku-20241022", sel.Model)
		assert.Equal(t, "sk-shared", sel.Credential)
	})

	t.Run("missing env vars leave credential empty", func(t *testing.T) {
		t.Setenv("TEST_KEY_PRIMARY", "")
		t.Setenv("TEST_KEY_SHARED", "")

		sel := NewSelector(testRegistry()).Select("classify_trades")
		assert.Equal(t, "claude-sonnet-4-20250514", sel.Model)
		assert.Empty(t, sel.Credential)
		assert.Empty(t, sel.CredentialSource)
	})
}

func TestSelectorFallback(t *testing.T) {
	t.Setenv("TEST_KEY_FALLBACK", "sk-fallback")
	t.Setenv("TEST_KEY_SHARED", "sk-shared")

	selector := NewSelector(testRegistry())

	t.Run("returns next route after failed model", func(t *testing.T) {
		fallback, ok := selector.Fallback("classify_trades", "claude-sonnet-4-20250514")
		require.True(t, ok)
		assert.Equal(t, "claude-3-5-haiku-20241022", fallback.Model)
		assert.Equal(t, "sk-fallback", fallback.Credential)
	})

	t.Run("no fallback after last route", func(t *testing.T) {
		_, ok := selector.Fallback("classify_trades", "claude-3-5-haiku-20241022")
		assert.False(t, ok)
	})

	t.Run("no fallback for unlisted model", func(t *testing.T) {
		_, ok := selector.Fallback("classify_trades", "gpt-4o")
		assert.False(t, ok)
	})
}
