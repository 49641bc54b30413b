package models

import "time"

// Message is agent-to-agent communication. A nil TargetAgentNumber is a
// broadcast to the whole population.
type Message struct {
	ID                int64     `json:"id"`
	SenderAgentNumber int       `json:"sender_agent_number"`
	TargetAgentNumber *int      `json:"target_agent_number,omitempty"`
	Body              string    `json:"body"`
	CreatedAt         time.Time `json:"created_at"`
}

// Broadcast reports whether the message addresses the whole population.
func (m *Message) Broadcast() bool { return m.TargetAgentNumber == nil }

// Event types written by the engine, scheduler, and guardrail. The events
// table is append-only; ids are monotonic and feed the stream poller.
const (
	EventActionExecuted      = "action_executed"
	EventInvalidAction       = "invalid_action"
	EventModelFallback       = "model_fallback"
	EventAgentDormant        = "agent_dormant"
	EventAgentDied           = "agent_died"
	EventProposalCreated     = "proposal_created"
	EventProposalResolved    = "proposal_resolved"
	EventLawPassed           = "law_passed"
	EventLawRepealed         = "law_repealed"
	EventEnforcementCreated  = "enforcement_created"
	EventEnforcementResolved = "enforcement_resolved"
	EventEnforcementExecuted = "enforcement_executed"
	EventCrisisDeclared      = "crisis_declared"
	EventSimulationPaused    = "simulation_paused"
	EventSimulationResumed   = "simulation_resumed"
	EventSeasonSeeded        = "season_seeded"
	EventCheckpoint          = "checkpoint"
)

// Event is one append-only ledger row. Metadata is free-form JSON used by
// salience scoring and the stream consumers.
type Event struct {
	ID            int64          `json:"id"`
	EventType     string         `json:"event_type"`
	AgentNumber   *int           `json:"agent_number,omitempty"`
	Description   string         `json:"description"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	SimulationDay string         `json:"simulation_day"`
	CreatedAt     time.Time      `json:"created_at"`
}

// TransactionType categorizes resource movements.
type TransactionType string

const (
	TransactionWork        TransactionType = "work"
	TransactionTrade       TransactionType = "trade"
	TransactionConsume     TransactionType = "consume"
	TransactionProduce     TransactionType = "produce"
	TransactionConsumption TransactionType = "daily_consumption"
	TransactionSeizure     TransactionType = "seizure"
	TransactionSeed        TransactionType = "season_seed"
)

// Transaction is one resource movement. FromAgentNumber or ToAgentNumber is
// nil when the counterparty is the global pool.
type Transaction struct {
	ID              int64           `json:"id"`
	TransactionType TransactionType `json:"transaction_type"`
	FromAgentNumber *int            `json:"from_agent_number,omitempty"`
	ToAgentNumber   *int            `json:"to_agent_number,omitempty"`
	ResourceType    ResourceType    `json:"resource_type"`
	Quantity        int             `json:"quantity"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// AgentAction is the persisted record of one attempted action, successful
// or not. Rate limiting counts these rows over the trailing hour.
type AgentAction struct {
	ID          int64     `json:"id"`
	AgentNumber int       `json:"agent_number"`
	ActionType  string    `json:"action_type"`
	Success     bool      `json:"success"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AgentMemory is the single long-term memory row per agent, rewritten at
// each checkpoint from salient events.
type AgentMemory struct {
	AgentNumber          int       `json:"agent_number"`
	Summary              string    `json:"summary"`
	LastCheckpointNumber int       `json:"last_checkpoint_number"`
	UpdatedAt            time.Time `json:"updated_at"`
}
