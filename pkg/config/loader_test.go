package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costcraft/mason/pkg/models"
)

func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestInitializeWithDefaults(t *testing.T) {
	// Empty config dir — everything comes from built-ins.
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, cfg.Pipeline.StageTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Pipeline.RequestTimeout)
	assert.Equal(t, 64, cfg.Pipeline.SubscriberBuffer)
	assert.NotEmpty(t, cfg.Routing.Default().Routes)
	assert.True(t, cfg.Routing.Has(models.StageEstimate))
}

func TestInitializeMergesUserYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "mason.yaml", `
pipeline:
  stage_timeout: 30s
  request_timeout: 5m
smartsheet:
  base_url: https://sheets.example.com/api
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Pipeline.StageTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.RequestTimeout)
	// Unset values keep their defaults.
	assert.Equal(t, 64, cfg.Pipeline.SubscriberBuffer)
	assert.Equal(t, "https://sheets.example.com/api", cfg.Smartsheet.BaseURL)
	assert.Equal(t, "SMARTSHEET_ACCESS_TOKEN", cfg.Smartsheet.TokenEnv)
}

func TestInitializeUserStageRoutes(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "models.yaml", `
stages:
  takeoff:
    routes:
      - model: takeoff-tuned-model
        api_key_envs: [TAKEOFF_KEY, MODEL_CREDENTIAL_PRIMARY]
default:
  routes:
    - model: generic-model
      api_key_envs: [MODEL_CREDENTIAL_PRIMARY]
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	takeoff := cfg.StageRoutes(models.StageTakeoff)
	require.Len(t, takeoff.Routes, 1)
	assert.Equal(t, "takeoff-tuned-model", takeoff.Routes[0].Model)
	assert.Equal(t, []string{"TAKEOFF_KEY", "MODEL_CREDENTIAL_PRIMARY"}, takeoff.Routes[0].APIKeyEnvs)

	// Unknown stages resolve to the user-supplied default list.
	unknown := cfg.StageRoutes("no-such-stage")
	require.Len(t, unknown.Routes, 1)
	assert.Equal(t, "generic-model", unknown.Routes[0].Model)
}

func TestInitializeEnvExpansion(t *testing.T) {
	t.Setenv("MASON_TEST_SHEET_URL", "https://expanded.example.com")

	dir := t.TempDir()
	writeConfigFile(t, dir, "mason.yaml", `
smartsheet:
  base_url: "{{.MASON_TEST_SHEET_URL}}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "https://expanded.example.com", cfg.Smartsheet.BaseURL)
}

func TestInitializeValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "negative stage timeout",
			file: "mason.yaml",
			content: `
pipeline:
  stage_timeout: -10s
`,
		},
		{
			name: "request timeout below stage timeout",
			file: "mason.yaml",
			content: `
pipeline:
  stage_timeout: 10m
  request_timeout: 1m
`,
		},
		{
			name: "route missing model",
			file: "models.yaml",
			content: `
stages:
  parse:
    routes:
      - api_key_envs: [SOME_KEY]
`,
		},
		{
			name: "route missing key envs",
			file: "models.yaml",
			content: `
stages:
  parse:
    routes:
      - model: some-model
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfigFile(t, dir, tt.file, tt.content)

			_, err := Initialize(context.Background(), dir)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidationFailed)
		})
	}
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "mason.yaml", "pipeline: [not: a: mapping")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)

	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}
