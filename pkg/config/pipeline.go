package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig controls orchestration timing and event delivery.
type PipelineConfig struct {
	// StageTimeout is the maximum time a single stage adapter may run.
	// On expiry the adapter is cancelled; the manager treats the timeout as
	// non-critical unless the stage is essential for the request's intent.
	StageTimeout time.Duration `yaml:"stage_timeout"`

	// RequestTimeout is the whole-request deadline. On expiry the current
	// stage is cancelled and the request ends with status=error.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// SubscriberBuffer is the per-subscriber event buffer size. When a
	// subscriber's buffer is full, the oldest buffered event is dropped to
	// keep the manager from blocking.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// LLMMaxRetries bounds the caller's retry/fallback loop.
	LLMMaxRetries int `yaml:"llm_max_retries"`
}

// UnmarshalYAML accepts human-readable durations ("90s", "5m").
func (c *PipelineConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		StageTimeout     string `yaml:"stage_timeout"`
		RequestTimeout   string `yaml:"request_timeout"`
		SubscriberBuffer int    `yaml:"subscriber_buffer"`
		LLMMaxRetries    int    `yaml:"llm_max_retries"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	stage, err := parseDuration("stage_timeout", raw.StageTimeout)
	if err != nil {
		return err
	}
	request, err := parseDuration("request_timeout", raw.RequestTimeout)
	if err != nil {
		return err
	}
	c.StageTimeout = stage
	c.RequestTimeout = request
	c.SubscriberBuffer = raw.SubscriberBuffer
	c.LLMMaxRetries = raw.LLMMaxRetries
	return nil
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		StageTimeout:     120 * time.Second,
		RequestTimeout:   15 * time.Minute,
		SubscriberBuffer: 64,
		LLMMaxRetries:    3,
	}
}

// SmartsheetConfig holds settings for the external spreadsheet service.
type SmartsheetConfig struct {
	// BaseURL of the external spreadsheet API.
	BaseURL string `yaml:"base_url"`

	// TokenEnv is the environment variable holding the API token.
	TokenEnv string `yaml:"token_env"`

	// RequestTimeout bounds each API call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// UnmarshalYAML accepts a human-readable request_timeout duration.
func (c *SmartsheetConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		BaseURL        string `yaml:"base_url"`
		TokenEnv       string `yaml:"token_env"`
		RequestTimeout string `yaml:"request_timeout"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	timeout, err := parseDuration("request_timeout", raw.RequestTimeout)
	if err != nil {
		return err
	}
	c.BaseURL = raw.BaseURL
	c.TokenEnv = raw.TokenEnv
	c.RequestTimeout = timeout
	return nil
}

// parseDuration parses an optional duration field; empty means unset.
func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return d, nil
}

// DefaultSmartsheetConfig returns the built-in smartsheet defaults.
func DefaultSmartsheetConfig() *SmartsheetConfig {
	return &SmartsheetConfig{
		BaseURL:        "https://api.smartsheet.com/2.0",
		TokenEnv:       "SMARTSHEET_ACCESS_TOKEN",
		RequestTimeout: 30 * time.Second,
	}
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// AllowedWSOrigins lists additional WebSocket origin patterns accepted
	// by the events endpoint.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}
