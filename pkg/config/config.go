package config

// Config is the umbrella configuration object returned by Initialize().
// Read-only after construction; no synchronization needed by consumers.
type Config struct {
	configDir string

	Pipeline   *PipelineConfig
	Smartsheet *SmartsheetConfig
	Server     *ServerConfig

	Routing *RoutingRegistry
}

// Stats contains statistics about loaded configuration.
type Stats struct {
	StageRoutes   int
	DefaultRoutes int
}

// Stats returns configuration statistics for logging.
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.Routing != nil {
		s.StageRoutes = c.Routing.Len()
		if d := c.Routing.Default(); d != nil {
			s.DefaultRoutes = len(d.Routes)
		}
	}
	return s
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// StageRoutes retrieves the model routes for a stage (default list for
// unknown stages). Convenience wrapper around Routing.Get().
func (c *Config) StageRoutes(stageName string) *StageRoutes {
	return c.Routing.Get(stageName)
}
