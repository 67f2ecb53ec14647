package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// MasonYAMLConfig represents the complete mason.yaml file structure.
type MasonYAMLConfig struct {
	Pipeline   *PipelineConfig   `yaml:"pipeline"`
	Smartsheet *SmartsheetConfig `yaml:"smartsheet"`
	Server     *ServerConfig     `yaml:"server"`
}

// ModelsYAMLConfig represents the complete models.yaml file structure:
// per-stage ordered model routes plus the default route list.
type ModelsYAMLConfig struct {
	Stages  map[string]*StageRoutes `yaml:"stages"`
	Default *StageRoutes            `yaml:"default"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load YAML files from configDir (both optional — built-ins apply)
//  2. Expand environment variables
//  3. Merge user YAML over built-in defaults
//  4. Build the routing registry
//  5. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"stage_routes", stats.StageRoutes,
		"default_routes", stats.DefaultRoutes)

	return cfg, nil
}

// load is the internal loader (not exported).
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	// 1. Load mason.yaml (pipeline, smartsheet, server). Optional.
	masonConfig, err := loader.loadMasonYAML()
	if err != nil {
		return nil, NewLoadError("mason.yaml", err)
	}

	// 2. Load models.yaml (stage model routes). Optional.
	modelsConfig, err := loader.loadModelsYAML()
	if err != nil {
		return nil, NewLoadError("models.yaml", err)
	}

	// 3. Merge user config over built-in defaults (non-zero values override).
	pipeline := DefaultPipelineConfig()
	if masonConfig.Pipeline != nil {
		if err := mergo.Merge(pipeline, masonConfig.Pipeline, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge pipeline config: %w", err)
		}
	}
	smartsheet := DefaultSmartsheetConfig()
	if masonConfig.Smartsheet != nil {
		if err := mergo.Merge(smartsheet, masonConfig.Smartsheet, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge smartsheet config: %w", err)
		}
	}
	server := masonConfig.Server
	if server == nil {
		server = &ServerConfig{}
	}

	// 4. Build the routing registry: built-in stage routes overlaid with
	// user-defined ones, user default list replacing the built-in.
	stages := builtinStageRoutes()
	for name, routes := range modelsConfig.Stages {
		stages[name] = routes
	}
	defaultRoutes := builtinDefaultRoutes()
	if modelsConfig.Default != nil && len(modelsConfig.Default.Routes) > 0 {
		defaultRoutes = modelsConfig.Default
	}

	return &Config{
		configDir:  configDir,
		Pipeline:   pipeline,
		Smartsheet: smartsheet,
		Server:     server,
		Routing:    NewRoutingRegistry(stages, defaultRoutes),
	}, nil
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	if cfg.Pipeline.StageTimeout <= 0 {
		return NewValidationError("pipeline", "pipeline", "stage_timeout", ErrInvalidValue)
	}
	if cfg.Pipeline.RequestTimeout <= 0 {
		return NewValidationError("pipeline", "pipeline", "request_timeout", ErrInvalidValue)
	}
	if cfg.Pipeline.RequestTimeout < cfg.Pipeline.StageTimeout {
		return NewValidationError("pipeline", "pipeline", "request_timeout",
			fmt.Errorf("%w: must be >= stage_timeout", ErrInvalidValue))
	}
	if cfg.Pipeline.SubscriberBuffer <= 0 {
		return NewValidationError("pipeline", "pipeline", "subscriber_buffer", ErrInvalidValue)
	}
	if cfg.Smartsheet.BaseURL == "" {
		return NewValidationError("smartsheet", "smartsheet", "base_url", ErrMissingRequiredField)
	}

	if err := validateRoutes("default", cfg.Routing.Default()); err != nil {
		return err
	}
	for _, name := range cfg.Routing.StageNames() {
		if err := validateRoutes(name, cfg.Routing.Get(name)); err != nil {
			return err
		}
	}
	return nil
}

type configLoader struct {
	configDir string
}

// loadYAML reads a config file, expands environment variables, and parses
// it into target. A missing file is not an error — built-in defaults apply.
func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("Config file not found, using built-in defaults", "path", path)
			return nil
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadMasonYAML() (*MasonYAMLConfig, error) {
	var config MasonYAMLConfig
	if err := l.loadYAML("mason.yaml", &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func (l *configLoader) loadModelsYAML() (*ModelsYAMLConfig, error) {
	var config ModelsYAMLConfig
	config.Stages = make(map[string]*StageRoutes)
	if err := l.loadYAML("models.yaml", &config); err != nil {
		return nil, err
	}
	return &config, nil
}
