package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// PolisYAMLConfig represents the polis.yaml file structure.
type PolisYAMLConfig struct {
	Environment string            `yaml:"environment"`
	Simulation  *SimulationConfig `yaml:"simulation"`
	Guardrail   *GuardrailConfig  `yaml:"guardrail"`
	Server      *ServerConfig     `yaml:"server"`
	Admin       *AdminConfig      `yaml:"admin"`
	Reports     *ReportsConfig    `yaml:"reports"`
	Models      []*ModelSpec      `yaml:"models"`
}

// ProvidersYAMLConfig represents the llm-providers.yaml file structure.
type ProvidersYAMLConfig struct {
	Providers map[string]*ProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables ({{.VAR}} syntax)
//  3. Merge user values over built-in defaults
//  4. Build provider and model registries
//  5. Validate everything
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"environment", cfg.Environment,
		"providers", stats.Providers,
		"models", stats.Models)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	polisCfg, err := loader.loadPolisYAML()
	if err != nil {
		return nil, NewLoadError("polis.yaml", err)
	}

	userProviders, err := loader.loadProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// Simulation and guardrail values merge over built-in defaults so a
	// sparse YAML file stays sparse.
	simulation := DefaultSimulationConfig()
	if polisCfg.Simulation != nil {
		if err := mergo.Merge(simulation, polisCfg.Simulation, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge simulation config: %w", err)
		}
	}
	guardrail := DefaultGuardrailConfig()
	if polisCfg.Guardrail != nil {
		if err := mergo.Merge(guardrail, polisCfg.Guardrail, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge guardrail config: %w", err)
		}
	}
	server := DefaultServerConfig()
	if polisCfg.Server != nil {
		if err := mergo.Merge(server, polisCfg.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}
	reports := DefaultReportsConfig()
	if polisCfg.Reports != nil {
		if err := mergo.Merge(reports, polisCfg.Reports, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge reports config: %w", err)
		}
	}

	// Providers: user entries override built-ins by name.
	providers := builtinProviders()
	for name, p := range userProviders {
		providers[name] = p
	}

	// Model table: user entries override built-in rows by model type.
	models := builtinModelTable()
	for _, spec := range polisCfg.Models {
		if spec != nil && spec.ModelType != "" {
			models[spec.ModelType] = spec
		}
	}

	environment := polisCfg.Environment
	if environment == "" {
		environment = os.Getenv("POLIS_ENV")
	}
	if environment == "" {
		environment = "development"
	}

	return &Config{
		configDir:   configDir,
		Environment: environment,
		Simulation:  simulation,
		Guardrail:   guardrail,
		Server:      server,
		Admin:       resolveAdminConfig(polisCfg.Admin),
		Reports:     reports,
		Providers:   NewProviderRegistry(providers),
		Models:      NewModelRegistry(models),
	}, nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

// loadPolisYAML reads polis.yaml; a missing file means pure defaults.
func (l *configLoader) loadPolisYAML() (*PolisYAMLConfig, error) {
	var cfg PolisYAMLConfig
	if err := l.loadYAML("polis.yaml", &cfg); err != nil {
		if isNotFound(err) {
			return &cfg, nil
		}
		return nil, err
	}
	return &cfg, nil
}

// loadProvidersYAML reads llm-providers.yaml; a missing file means the
// built-in provider set.
func (l *configLoader) loadProvidersYAML() (map[string]*ProviderConfig, error) {
	cfg := ProvidersYAMLConfig{Providers: map[string]*ProviderConfig{}}
	if err := l.loadYAML("llm-providers.yaml", &cfg); err != nil {
		if isNotFound(err) {
			return cfg.Providers, nil
		}
		return nil, err
	}
	return cfg.Providers, nil
}

func isNotFound(err error) bool {
	return err != nil && (os.IsNotExist(err) || errors.Is(err, ErrConfigNotFound))
}
