package config

import (
	"fmt"
	"net/netip"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: providers → models → simulation → guardrail → server → admin
	// This ensures dependencies are validated before dependents

	if err := v.validateProviders(); err != nil {
		return fmt.Errorf("provider validation failed: %w", err)
	}

	if err := v.validateModels(); err != nil {
		return fmt.Errorf("model validation failed: %w", err)
	}

	if err := v.validateSimulation(); err != nil {
		return fmt.Errorf("simulation validation failed: %w", err)
	}

	if err := v.validateGuardrail(); err != nil {
		return fmt.Errorf("guardrail validation failed: %w", err)
	}

	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}

	if err := v.validateAdmin(); err != nil {
		return fmt.Errorf("admin validation failed: %w", err)
	}

	if err := v.validateReports(); err != nil {
		return fmt.Errorf("reports validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateProviders() error {
	for name, provider := range v.cfg.Providers.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}

		// API keys are resolved lazily at dispatch time; an unset variable
		// makes the provider unavailable, not the config invalid. The env
		// variable NAME is still required so availability can be probed.
		if provider.APIKeyEnv == "" {
			return NewValidationError("provider", name, "api_key_env", fmt.Errorf("environment variable name required"))
		}

		if provider.TimeoutSeconds < 0 {
			return NewValidationError("provider", name, "timeout_seconds", fmt.Errorf("must not be negative"))
		}
	}

	return nil
}

func (v *ConfigValidator) validateModels() error {
	for modelType, spec := range v.cfg.Models.GetAll() {
		if spec.Provider == "" {
			return NewValidationError("model", modelType, "provider", fmt.Errorf("provider required"))
		}

		if !v.cfg.Providers.Has(spec.Provider) {
			return NewValidationError("model", modelType, "provider", fmt.Errorf("provider '%s' not found", spec.Provider))
		}

		if spec.ResolvedModel == "" {
			return NewValidationError("model", modelType, "resolved_model", fmt.Errorf("resolved model required"))
		}

		if !spec.Tier.IsValid() {
			return NewValidationError("model", modelType, "tier", fmt.Errorf("invalid tier: %s", spec.Tier))
		}

		if spec.InputPricePerMTok < 0 || spec.OutputPricePerMTok < 0 {
			return NewValidationError("model", modelType, "pricing", fmt.Errorf("prices must not be negative"))
		}

		if spec.FreeTierDailyCalls < 0 {
			return NewValidationError("model", modelType, "free_tier_daily_calls", fmt.Errorf("must not be negative"))
		}
	}

	return nil
}

func (v *ConfigValidator) validateSimulation() error {
	sim := v.cfg.Simulation

	positives := []struct {
		field string
		value int
	}{
		{"population_size", sim.PopulationSize},
		{"scheduler_tick_seconds", sim.SchedulerTickSeconds},
		{"processor_poll_seconds", sim.ProcessorPollSeconds},
		{"checkpoint_interval_hours", sim.CheckpointIntervalHours},
		{"max_actions_per_hour", sim.MaxActionsPerHour},
		{"context_message_limit", sim.ContextMessageLimit},
		{"context_salient_events_k", sim.ContextSalientEventsK},
		{"daily_food_consumption", sim.DailyFoodConsumption},
		{"proposal_voting_hours", sim.ProposalVotingHours},
		{"enforcement_voting_hours", sim.EnforcementVotingHours},
	}
	for _, p := range positives {
		if p.value < 1 {
			return NewValidationError("simulation", "simulation", p.field, fmt.Errorf("must be at least 1"))
		}
	}

	if sim.PerceptionLagSeconds < 0 {
		return NewValidationError("simulation", "simulation", "perception_lag_seconds", fmt.Errorf("must not be negative"))
	}

	if sim.StarvationDeathThreshold <= sim.StarvationDormantThreshold {
		return NewValidationError("simulation", "simulation", "starvation_death_threshold",
			fmt.Errorf("must be greater than dormant threshold %d", sim.StarvationDormantThreshold))
	}

	if sim.WorkDiminishPercent < 0 || sim.WorkDiminishPercent > 100 {
		return NewValidationError("simulation", "simulation", "work_diminish_percent", fmt.Errorf("must be between 0 and 100"))
	}

	if sim.EnforcementQuorumPercent < 1 || sim.EnforcementQuorumPercent > 100 {
		return NewValidationError("simulation", "simulation", "enforcement_quorum_percent", fmt.Errorf("must be between 1 and 100"))
	}

	if sim.DefaultModelType == "" {
		return NewValidationError("simulation", "simulation", "default_model_type", fmt.Errorf("default model type required"))
	}
	if !v.cfg.Models.Has(sim.DefaultModelType) {
		return NewValidationError("simulation", "simulation", "default_model_type", fmt.Errorf("model '%s' not found", sim.DefaultModelType))
	}

	for job, rate := range sim.WorkBaseRates {
		if rate < 1 {
			return NewValidationError("simulation", "simulation", "work_base_rates", fmt.Errorf("rate for '%s' must be at least 1", job))
		}
	}

	return nil
}

func (v *ConfigValidator) validateGuardrail() error {
	g := v.cfg.Guardrail

	if g.SoftBudgetUSD < 0 || g.HardBudgetUSD < 0 {
		return NewValidationError("guardrail", "guardrail", "budget", fmt.Errorf("budgets must not be negative"))
	}

	if g.HardBudgetUSD < g.SoftBudgetUSD {
		return NewValidationError("guardrail", "guardrail", "hard_budget_usd",
			fmt.Errorf("must be at least soft budget %.2f", g.SoftBudgetUSD))
	}

	if g.ProviderFailureWindowMinutes < 1 {
		return NewValidationError("guardrail", "guardrail", "provider_failure_window_minutes", fmt.Errorf("must be at least 1"))
	}

	if g.ProviderFailureThreshold < 1 {
		return NewValidationError("guardrail", "guardrail", "provider_failure_threshold", fmt.Errorf("must be at least 1"))
	}

	if g.DBPoolUtilizationThreshold <= 0 || g.DBPoolUtilizationThreshold > 1 {
		return NewValidationError("guardrail", "guardrail", "db_pool_utilization_threshold", fmt.Errorf("must be in (0, 1]"))
	}

	if g.DBPoolConsecutiveChecks < 1 {
		return NewValidationError("guardrail", "guardrail", "db_pool_consecutive_checks", fmt.Errorf("must be at least 1"))
	}

	if g.EvaluateIntervalSeconds < 1 {
		return NewValidationError("guardrail", "guardrail", "evaluate_interval_seconds", fmt.Errorf("must be at least 1"))
	}

	return nil
}

func (v *ConfigValidator) validateServer() error {
	s := v.cfg.Server

	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "server", "port", fmt.Errorf("must be between 1 and 65535"))
	}

	return nil
}

func (v *ConfigValidator) validateAdmin() error {
	a := v.cfg.Admin

	if a.TokenEnv == "" {
		return NewValidationError("admin", "admin", "token_env", fmt.Errorf("environment variable name required"))
	}

	for i, cidr := range a.AllowedCIDRs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return NewValidationError("admin", "admin", fmt.Sprintf("allowed_cidrs[%d]", i), fmt.Errorf("invalid CIDR '%s': %v", cidr, err))
		}
	}

	return nil
}

func (v *ConfigValidator) validateReports() error {
	if v.cfg.Reports.OutputDir == "" {
		return NewValidationError("reports", "reports", "output_dir", fmt.Errorf("output directory required"))
	}

	return nil
}
