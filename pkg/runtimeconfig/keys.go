package runtimeconfig

import (
	"strconv"

	"github.com/polis-labs/polis/pkg/config"
)

// Allowlisted keys. Writes to any other key are rejected before touching
// the database.
const (
	KeySimulationActive             = "SIMULATION_ACTIVE"
	KeySimulationPaused             = "SIMULATION_PAUSED"
	KeyPauseReason                  = "PAUSE_REASON"
	KeyCurrentRunID                 = "CURRENT_RUN_ID"
	KeyMaxActionsPerHour            = "MAX_ACTIONS_PER_HOUR"
	KeyPerceptionLagSeconds         = "PERCEPTION_LAG_SECONDS"
	KeySoftBudgetUSD                = "LLM_DAILY_BUDGET_USD_SOFT"
	KeyHardBudgetUSD                = "LLM_DAILY_BUDGET_USD_HARD"
	KeyStopEnforcementEnabled       = "STOP_CONDITION_ENFORCEMENT_ENABLED"
	KeyProviderFailureWindowMinutes = "STOP_PROVIDER_FAILURE_WINDOW_MINUTES"
	KeyProviderFailureThreshold     = "STOP_PROVIDER_FAILURE_THRESHOLD"
	KeyDBPoolUtilizationThreshold   = "STOP_DB_POOL_UTILIZATION_THRESHOLD"
	KeyDBPoolConsecutiveChecks      = "STOP_DB_POOL_CONSECUTIVE_CHECKS"
	KeyCheckpointIntervalHours      = "CHECKPOINT_INTERVAL_HOURS"

	// KeyModelOverrides redirects model types at dispatch time without a
	// restart. Value format: comma-separated "from=to" pairs where both
	// sides are model table entries, e.g. "claude-sonnet-4=claude-haiku".
	KeyModelOverrides = "MODEL_OVERRIDES"
)

// buildDefaults derives the static default for every allowlisted key from
// the loaded configuration. A key's presence here IS the allowlist.
func buildDefaults(cfg *config.Config) map[string]string {
	sim := cfg.Simulation
	g := cfg.Guardrail
	return map[string]string{
		KeySimulationActive:             "false",
		KeySimulationPaused:             "false",
		KeyPauseReason:                  "",
		KeyCurrentRunID:                 "",
		KeyMaxActionsPerHour:            strconv.Itoa(sim.MaxActionsPerHour),
		KeyPerceptionLagSeconds:         strconv.Itoa(sim.PerceptionLagSeconds),
		KeySoftBudgetUSD:                strconv.FormatFloat(g.SoftBudgetUSD, 'f', -1, 64),
		KeyHardBudgetUSD:                strconv.FormatFloat(g.HardBudgetUSD, 'f', -1, 64),
		KeyStopEnforcementEnabled:       strconv.FormatBool(g.Enabled),
		KeyProviderFailureWindowMinutes: strconv.Itoa(g.ProviderFailureWindowMinutes),
		KeyProviderFailureThreshold:     strconv.Itoa(g.ProviderFailureThreshold),
		KeyDBPoolUtilizationThreshold:   strconv.FormatFloat(g.DBPoolUtilizationThreshold, 'f', -1, 64),
		KeyDBPoolConsecutiveChecks:      strconv.Itoa(g.DBPoolConsecutiveChecks),
		KeyCheckpointIntervalHours:      strconv.Itoa(sim.CheckpointIntervalHours),
		KeyModelOverrides:               "",
	}
}
