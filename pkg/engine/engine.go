package engine

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/polis-labs/polis/pkg/config"
	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/store"
)

// Sanction motions that omit a duration get this many hours.
const defaultSanctionHours = 24

// Engine validates and executes actions against the store using the world
// parameters from configuration. It is stateless; one instance serves all
// agents concurrently.
type Engine struct {
	store *store.Store
	sim   *config.SimulationConfig
	clock identity.Clock
	log   *slog.Logger
}

// NewEngine creates an action engine.
func NewEngine(st *store.Store, sim *config.SimulationConfig, clock identity.Clock) *Engine {
	return &Engine{
		store: st,
		sim:   sim,
		clock: clock,
		log:   slog.With("component", "engine"),
	}
}

// ValidationResult is the verdict of the read-only validation pass. Reason
// is set exactly when Valid is false and is written in terms the agent can
// act on next turn.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Valid: false, Reason: fmt.Sprintf(format, args...)}
}

func accepted() ValidationResult { return ValidationResult{Valid: true} }

// Result describes an executed action. Success false means the transaction
// rolled back and no state changed beyond the recorded attempt; Description
// then carries the failure reason.
type Result struct {
	Success     bool           `json:"success"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// jobResource maps a work job to the resource it yields.
func jobResource(job string) models.ResourceType {
	switch job {
	case "farm":
		return models.ResourceFood
	case "generate":
		return models.ResourceEnergy
	case "gather":
		return models.ResourceMaterials
	}
	return ""
}

// workYield applies the diminishing-returns curve: each cycle already worked
// today on the same job scales the base rate by (1 - percent/100). The yield
// floors at 1 so a full day of work never becomes a pure no-op.
func workYield(base, diminishPercent, cyclesToday int) int {
	y := float64(base)
	factor := 1 - float64(diminishPercent)/100
	for i := 0; i < cyclesToday; i++ {
		y *= factor
	}
	n := int(math.Floor(y))
	if n < 1 {
		n = 1
	}
	return n
}
