package config

// SimulationConfig holds the static world parameters. Values here are the
// defaults the runtime-config service falls back to when no database
// override exists for a key it manages (action caps, perception lag,
// budgets); the rest are fixed for the life of the process.
type SimulationConfig struct {
	// Population
	PopulationSize   int    `yaml:"population_size"`
	DefaultModelType string `yaml:"default_model_type"`

	// Turn cadence
	SchedulerTickSeconds    int `yaml:"scheduler_tick_seconds"`
	ProcessorWorkers        int `yaml:"processor_workers"`
	ProcessorPollSeconds    int `yaml:"processor_poll_seconds"`
	CheckpointIntervalHours int `yaml:"checkpoint_interval_hours"`

	// Action shaping
	MaxActionsPerHour     int `yaml:"max_actions_per_hour"`
	PerceptionLagSeconds  int `yaml:"perception_lag_seconds"`
	BackoffCooldownSec    int `yaml:"backoff_cooldown_seconds"`
	ContextMessageLimit   int `yaml:"context_message_limit"`
	ContextSalientEventsK int `yaml:"context_salient_events_k"`

	// Economy
	StartingInventory          map[string]int `yaml:"starting_inventory"`
	DailyFoodConsumption       int            `yaml:"daily_food_consumption"`
	StarvationDormantThreshold int            `yaml:"starvation_dormant_threshold"`
	StarvationDeathThreshold   int            `yaml:"starvation_death_threshold"`
	WorkBaseRates              map[string]int `yaml:"work_base_rates"`
	WorkDiminishPercent        int            `yaml:"work_diminish_percent"`
	ProduceMaterialsCost       int            `yaml:"produce_materials_cost"`
	ProduceEnergyCost          int            `yaml:"produce_energy_cost"`
	ProduceFoodYield           int            `yaml:"produce_food_yield"`

	// Governance
	ProposalVotingHours      int `yaml:"proposal_voting_hours"`
	EnforcementVotingHours   int `yaml:"enforcement_voting_hours"`
	EnforcementQuorumPercent int `yaml:"enforcement_quorum_percent"`

	// Research harness
	ProtocolVersion string `yaml:"protocol_version"`
}

// DefaultSimulationConfig returns the built-in world parameters; polis.yaml
// values are merged over these.
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		PopulationSize:             24,
		DefaultModelType:           "gpt-4o-mini",
		SchedulerTickSeconds:       30,
		ProcessorWorkers:           4,
		ProcessorPollSeconds:       20,
		CheckpointIntervalHours:    6,
		MaxActionsPerHour:          3,
		PerceptionLagSeconds:       120,
		BackoffCooldownSec:         90,
		ContextMessageLimit:        12,
		ContextSalientEventsK:      8,
		StartingInventory: map[string]int{
			"food":      10,
			"energy":    5,
			"materials": 5,
		},
		DailyFoodConsumption:       2,
		StarvationDormantThreshold: 3,
		StarvationDeathThreshold:   6,
		WorkBaseRates: map[string]int{
			"farm":     4,
			"generate": 3,
			"gather":   3,
		},
		WorkDiminishPercent:      25,
		ProduceMaterialsCost:     2,
		ProduceEnergyCost:        1,
		ProduceFoodYield:         3,
		ProposalVotingHours:      6,
		EnforcementVotingHours:   3,
		EnforcementQuorumPercent: 30,
		ProtocolVersion:          "polis-protocol-2",
	}
}
