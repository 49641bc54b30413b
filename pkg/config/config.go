// Package config loads and validates static configuration: world parameters
// from polis.yaml, the provider set from llm-providers.yaml, and the built-in
// model table. Environment variables expand inside YAML via {{.VAR}} template
// syntax. Dynamic, admin-mutable settings live in pkg/runtimeconfig; this
// package supplies their static defaults.
package config

// Config is the complete, validated static configuration.
type Config struct {
	configDir string

	Environment string

	Simulation *SimulationConfig
	Guardrail  *GuardrailConfig
	Server     *ServerConfig
	Admin      *AdminConfig
	Reports    *ReportsConfig

	Providers *ProviderRegistry
	Models    *ModelRegistry
}

// Stats summarizes registry sizes for startup logging.
type Stats struct {
	Providers int
	Models    int
}

// Stats returns registry sizes.
func (c *Config) Stats() Stats {
	return Stats{
		Providers: c.Providers.Len(),
		Models:    c.Models.Len(),
	}
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// Production reports whether this deployment runs with production rules
// (non-empty CIDR allowlist required, writes audited as environment=prod).
func (c *Config) Production() bool { return c.Environment == "production" }
