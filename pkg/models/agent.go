// Package models holds the domain types shared across packages: agent and
// economy rows, governance records, telemetry rows, and the request/response
// shapes the API and CLI exchange. Stores persist these types; services and
// the engine operate on them.
package models

import "time"

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentStatusActive  AgentStatus = "active"
	AgentStatusDormant AgentStatus = "dormant"
	AgentStatusDead    AgentStatus = "dead"
)

// ResourceType identifies one of the three tracked resources.
type ResourceType string

const (
	ResourceFood      ResourceType = "food"
	ResourceEnergy    ResourceType = "energy"
	ResourceMaterials ResourceType = "materials"
)

// ResourceTypes lists all resources in canonical (lock) order.
var ResourceTypes = []ResourceType{ResourceEnergy, ResourceFood, ResourceMaterials}

// ValidResourceType reports whether s names a tracked resource.
func ValidResourceType(s string) bool {
	switch ResourceType(s) {
	case ResourceFood, ResourceEnergy, ResourceMaterials:
		return true
	}
	return false
}

// Agent is one member of the population.
type Agent struct {
	AgentNumber      int         `json:"agent_number"`
	DisplayName      string      `json:"display_name"`
	ModelType        string      `json:"model_type"`
	Tier             string      `json:"tier"`
	PersonalityType  string      `json:"personality_type"`
	Status           AgentStatus `json:"status"`
	Exiled           bool        `json:"exiled"`
	SanctionedUntil  *time.Time  `json:"sanctioned_until,omitempty"`
	StarvationCycles int         `json:"starvation_cycles"`
	DiedAt           *time.Time  `json:"died_at,omitempty"`
	DeathCause       *string     `json:"death_cause,omitempty"`
	CurrentIntent    *string     `json:"current_intent,omitempty"`
	LastCheckpointAt *time.Time  `json:"last_checkpoint_at,omitempty"`
	NextCheckpointAt *time.Time  `json:"next_checkpoint_at,omitempty"`
	CheckpointNumber int         `json:"checkpoint_number"`
	SystemPrompt     string      `json:"-"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Sanctioned reports whether the agent is under an active sanction at now.
func (a *Agent) Sanctioned(now time.Time) bool {
	return a.SanctionedUntil != nil && a.SanctionedUntil.After(now)
}

// CanAct reports whether the agent may take actions at now: alive, awake,
// not exiled, not sanctioned.
func (a *Agent) CanAct(now time.Time) bool {
	return a.Status == AgentStatusActive && !a.Exiled && !a.Sanctioned(now)
}

// InventoryEntry is one (agent, resource) quantity. Quantities never go
// negative; the store enforces this with a CHECK constraint and executors
// enforce it again before writing.
type InventoryEntry struct {
	AgentNumber  int          `json:"agent_number"`
	ResourceType ResourceType `json:"resource_type"`
	Quantity     int          `json:"quantity"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Inventory is an agent's full holdings keyed by resource.
type Inventory map[ResourceType]int

// Total returns the summed quantity across resources (the wealth measure
// used by emergence metrics and epoch scoring).
func (inv Inventory) Total() int {
	t := 0
	for _, q := range inv {
		t += q
	}
	return t
}

// GlobalResources is the shared world pool agents draw from when working.
type GlobalResources struct {
	Food      int       `json:"food"`
	Energy    int       `json:"energy"`
	Materials int       `json:"materials"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Amount returns the pool quantity for a resource type.
func (g *GlobalResources) Amount(rt ResourceType) int {
	switch rt {
	case ResourceFood:
		return g.Food
	case ResourceEnergy:
		return g.Energy
	case ResourceMaterials:
		return g.Materials
	}
	return 0
}
