package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Environment: "development",
		Simulation:  DefaultSimulationConfig(),
		Guardrail:   DefaultGuardrailConfig(),
		Server:      DefaultServerConfig(),
		Admin:       resolveAdminConfig(nil),
		Reports:     DefaultReportsConfig(),
		Providers:   NewProviderRegistry(builtinProviders()),
		Models:      NewModelRegistry(builtinModelTable()),
	}
}

func TestValidateAllDefaults(t *testing.T) {
	err := NewValidator(validTestConfig()).ValidateAll()
	assert.NoError(t, err)
}

func TestValidateProviders(t *testing.T) {
	tests := []struct {
		name      string
		providers map[string]*ProviderConfig
		wantErr   bool
		errMsg    string
	}{
		{
			name: "valid provider",
			providers: map[string]*ProviderConfig{
				"test": {Type: ProviderOpenAI, APIKeyEnv: "TEST_KEY"},
			},
			wantErr: false,
		},
		{
			name: "invalid provider type",
			providers: map[string]*ProviderConfig{
				"test": {Type: "cohere", APIKeyEnv: "TEST_KEY"},
			},
			wantErr: true,
			errMsg:  "invalid provider type: cohere",
		},
		{
			name: "missing api key env",
			providers: map[string]*ProviderConfig{
				"test": {Type: ProviderOpenAI},
			},
			wantErr: true,
			errMsg:  "environment variable name required",
		},
		{
			name: "negative timeout",
			providers: map[string]*ProviderConfig{
				"test": {Type: ProviderOpenAI, APIKeyEnv: "TEST_KEY", TimeoutSeconds: -5},
			},
			wantErr: true,
			errMsg:  "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Providers = NewProviderRegistry(tt.providers)

			err := NewValidator(cfg).validateProviders()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateModels(t *testing.T) {
	tests := []struct {
		name    string
		spec    *ModelSpec
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid model",
			spec:    &ModelSpec{ModelType: "test-model", Provider: "openai", ResolvedModel: "gpt-test", Tier: TierStandard},
			wantErr: false,
		},
		{
			name:    "unknown provider reference",
			spec:    &ModelSpec{ModelType: "test-model", Provider: "missing", ResolvedModel: "gpt-test", Tier: TierStandard},
			wantErr: true,
			errMsg:  "provider 'missing' not found",
		},
		{
			name:    "missing resolved model",
			spec:    &ModelSpec{ModelType: "test-model", Provider: "openai", Tier: TierStandard},
			wantErr: true,
			errMsg:  "resolved model required",
		},
		{
			name:    "invalid tier",
			spec:    &ModelSpec{ModelType: "test-model", Provider: "openai", ResolvedModel: "gpt-test", Tier: "platinum"},
			wantErr: true,
			errMsg:  "invalid tier: platinum",
		},
		{
			name:    "negative price",
			spec:    &ModelSpec{ModelType: "test-model", Provider: "openai", ResolvedModel: "gpt-test", Tier: TierEconomy, InputPricePerMTok: -1},
			wantErr: true,
			errMsg:  "prices must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Models = NewModelRegistry(map[string]*ModelSpec{tt.spec.ModelType: tt.spec})

			err := NewValidator(cfg).validateModels()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSimulation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SimulationConfig)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "defaults valid",
			mutate:  func(*SimulationConfig) {},
			wantErr: false,
		},
		{
			name:    "zero population",
			mutate:  func(s *SimulationConfig) { s.PopulationSize = 0 },
			wantErr: true,
			errMsg:  "population_size",
		},
		{
			name:    "negative perception lag",
			mutate:  func(s *SimulationConfig) { s.PerceptionLagSeconds = -1 },
			wantErr: true,
			errMsg:  "perception_lag_seconds",
		},
		{
			name:    "death threshold below dormant threshold",
			mutate:  func(s *SimulationConfig) { s.StarvationDeathThreshold = 2 },
			wantErr: true,
			errMsg:  "starvation_death_threshold",
		},
		{
			name:    "diminish percent out of range",
			mutate:  func(s *SimulationConfig) { s.WorkDiminishPercent = 140 },
			wantErr: true,
			errMsg:  "work_diminish_percent",
		},
		{
			name:    "unknown default model type",
			mutate:  func(s *SimulationConfig) { s.DefaultModelType = "gpt-99" },
			wantErr: true,
			errMsg:  "model 'gpt-99' not found",
		},
		{
			name:    "zero work rate",
			mutate:  func(s *SimulationConfig) { s.WorkBaseRates["farm"] = 0 },
			wantErr: true,
			errMsg:  "rate for 'farm' must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg.Simulation)

			err := NewValidator(cfg).validateSimulation()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateGuardrail(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*GuardrailConfig)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "defaults valid",
			mutate:  func(*GuardrailConfig) {},
			wantErr: false,
		},
		{
			name:    "hard budget below soft budget",
			mutate:  func(g *GuardrailConfig) { g.HardBudgetUSD = 10 },
			wantErr: true,
			errMsg:  "hard_budget_usd",
		},
		{
			name:    "utilization above one",
			mutate:  func(g *GuardrailConfig) { g.DBPoolUtilizationThreshold = 1.5 },
			wantErr: true,
			errMsg:  "db_pool_utilization_threshold",
		},
		{
			name:    "zero consecutive checks",
			mutate:  func(g *GuardrailConfig) { g.DBPoolConsecutiveChecks = 0 },
			wantErr: true,
			errMsg:  "db_pool_consecutive_checks",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg.Guardrail)

			err := NewValidator(cfg).validateGuardrail()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
