package models

import "time"

// LLMErrorType is the dispatch error taxonomy recorded on usage rows.
type LLMErrorType string

const (
	LLMErrorTimeout     LLMErrorType = "timeout"
	LLMErrorRateLimited LLMErrorType = "rate_limited"
	LLMErrorAuth        LLMErrorType = "auth"
	LLMErrorQuota       LLMErrorType = "quota"
	LLMErrorServer      LLMErrorType = "server"
	LLMErrorNetwork     LLMErrorType = "network"
	LLMErrorMalformed   LLMErrorType = "malformed_response"
)

// LLMUsage is one model-call accounting row. Invariants enforced by CHECK
// constraints: total = prompt + completion, cost >= 0, byok implies cost 0.
type LLMUsage struct {
	ID               string        `json:"id"`
	UsageDay         string        `json:"usage_day"`
	Provider         string        `json:"provider"`
	ModelType        string        `json:"model_type"`
	ResolvedModel    string        `json:"resolved_model"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	EstimatedCostUSD float64       `json:"estimated_cost_usd"`
	LatencyMs        int           `json:"latency_ms"`
	Success          bool          `json:"success"`
	ErrorType        *LLMErrorType `json:"error_type,omitempty"`
	FallbackUsed     bool          `json:"fallback_used"`
	ByokUsed         bool          `json:"byok_used"`
	RunID            *string       `json:"run_id,omitempty"`
	AgentNumber      *int          `json:"agent_number,omitempty"`
	CheckpointNumber *int          `json:"checkpoint_number,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// UsageSnapshot is the day-level aggregate the budget service serves and
// the guardrail consumes.
type UsageSnapshot struct {
	UsageDay            string         `json:"usage_day"`
	Calls               int            `json:"calls"`
	FailedCalls         int            `json:"failed_calls"`
	PromptTokens        int64          `json:"prompt_tokens"`
	CompletionTokens    int64          `json:"completion_tokens"`
	TotalTokens         int64          `json:"total_tokens"`
	EstimatedCostUSD    float64        `json:"estimated_cost_usd"`
	FallbackCount       int            `json:"fallback_count"`
	ByokCalls           int            `json:"byok_calls"`
	CallsByProvider     map[string]int `json:"calls_by_provider"`
	FreeTierUtilization float64        `json:"free_tier_utilization"`
}

// EmergenceMetricSnapshot is the once-per-day population metrics row,
// idempotent on SimulationDay.
type EmergenceMetricSnapshot struct {
	ID                int64     `json:"id"`
	SimulationDay     string    `json:"simulation_day"`
	ParticipationRate float64   `json:"participation_rate"`
	GiniCoefficient   float64   `json:"gini_coefficient"`
	ConflictRate      float64   `json:"conflict_rate"`
	CooperationRate   float64   `json:"cooperation_rate"`
	CoalitionChurn    float64   `json:"coalition_churn"`
	ActiveAgents      int       `json:"active_agents"`
	TotalWealth       int64     `json:"total_wealth"`
	CreatedAt         time.Time `json:"created_at"`
}

// ConfigChange is one audit row written for every runtime-config update.
type ConfigChange struct {
	ID          int64     `json:"id"`
	ConfigKey   string    `json:"config_key"`
	OldValue    *string   `json:"old_value,omitempty"`
	NewValue    string    `json:"new_value"`
	ChangedBy   string    `json:"changed_by"`
	Environment string    `json:"environment"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
