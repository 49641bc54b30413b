package config

import (
	"os"
	"strconv"
)

// GuardrailConfig holds the stop-condition defaults. Each of these has a
// runtime-config key that can override it while the daemon runs.
type GuardrailConfig struct {
	Enabled                      bool    `yaml:"enabled"`
	SoftBudgetUSD                float64 `yaml:"soft_budget_usd"`
	HardBudgetUSD                float64 `yaml:"hard_budget_usd"`
	ProviderFailureWindowMinutes int     `yaml:"provider_failure_window_minutes"`
	ProviderFailureThreshold     int     `yaml:"provider_failure_threshold"`
	DBPoolUtilizationThreshold   float64 `yaml:"db_pool_utilization_threshold"`
	DBPoolConsecutiveChecks      int     `yaml:"db_pool_consecutive_checks"`
	EvaluateIntervalSeconds      int     `yaml:"evaluate_interval_seconds"`
}

// DefaultGuardrailConfig returns the built-in stop-condition thresholds.
func DefaultGuardrailConfig() *GuardrailConfig {
	return &GuardrailConfig{
		Enabled:                      true,
		SoftBudgetUSD:                25.0,
		HardBudgetUSD:                50.0,
		ProviderFailureWindowMinutes: 10,
		ProviderFailureThreshold:     25,
		DBPoolUtilizationThreshold:   0.85,
		DBPoolConsecutiveChecks:      3,
		EvaluateIntervalSeconds:      30,
	}
}

// AdminConfig holds admin API access settings. The token is resolved from
// the environment at load time and never serialized.
type AdminConfig struct {
	TokenEnv     string   `yaml:"token_env"`
	AllowedCIDRs []string `yaml:"allowed_cidrs"`

	Token        string `yaml:"-"`
	WriteEnabled bool   `yaml:"-"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DefaultServerConfig returns the listener defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{Host: "0.0.0.0", Port: 8090}
}

// ReportsConfig holds the artifact export settings. Report pairs land under
// <output_dir>/reports/{runs,epochs}/.
type ReportsConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// DefaultReportsConfig returns the artifact export defaults.
func DefaultReportsConfig() *ReportsConfig {
	return &ReportsConfig{OutputDir: "output"}
}

// resolveAdminConfig applies defaults and resolves env-backed fields.
func resolveAdminConfig(admin *AdminConfig) *AdminConfig {
	cfg := &AdminConfig{TokenEnv: "ADMIN_API_TOKEN"}
	if admin != nil {
		if admin.TokenEnv != "" {
			cfg.TokenEnv = admin.TokenEnv
		}
		cfg.AllowedCIDRs = admin.AllowedCIDRs
	}
	cfg.Token = os.Getenv(cfg.TokenEnv)
	cfg.WriteEnabled = envBool("ADMIN_WRITE_ENABLED", false)
	return cfg
}

// envBool parses a boolean environment variable with a default.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
