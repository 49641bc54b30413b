package season

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/store"
)

// TransferPolicyCarryoverV1 is the only transfer policy version implemented:
// survivors keep their agent numbers and holdings, lose memories and
// sanctions, and fresh agents fill the remaining slots.
const TransferPolicyCarryoverV1 = "carryover_v1"

var (
	// ErrConfirmRequired is returned when a real seed is requested without
	// the explicit confirm flag.
	ErrConfirmRequired = errors.New("seed requires confirm")

	// ErrSimulationActive is returned when a seed is attempted while the
	// simulation is running. Stop the run first; seeding mutates live
	// population state.
	ErrSimulationActive = errors.New("simulation is active")
)

// SeedRequest carries the operator's instructions for seeding one season.
type SeedRequest struct {
	SeasonID         string
	ParentRunID      string
	PolicyVersion    string
	TargetAgentCount int
	CarryPassedLaws  bool
	DryRun           bool
	Confirm          bool
}

// SeedPlan is the deterministic description of what a seed will do. It
// carries no timestamps and no generated ids, so a dry-run plan and the plan
// of a subsequent real seed are byte-equal JSON under identical inputs.
type SeedPlan struct {
	SeasonID         string                  `json:"season_id"`
	ParentRunID      string                  `json:"parent_run_id"`
	PolicyVersion    string                  `json:"transfer_policy_version"`
	TargetAgentCount int                     `json:"target_agent_count"`
	CarryPassedLaws  bool                    `json:"carry_passed_laws"`
	Carryover        []models.SurvivorRecord `json:"carryover"`
	Fresh            []models.SurvivorRecord `json:"fresh"`
	CarriedLawIDs    []int64                 `json:"carried_law_ids"`
}

// JSON renders the plan in its canonical form.
func (p *SeedPlan) JSON() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// SeedNextSeason plans and, unless DryRun, applies one season transfer.
// Survivors are selected sorted by agent number and truncated to the target
// count; fresh agents fill the remaining slots with newly assigned numbers,
// the default model type, and starter holdings. Lineage rows record how each
// member entered the season, which makes re-seeding the same season an
// ErrDuplicate. The whole apply is one transaction; a failure leaves nothing
// behind.
func (s *Service) SeedNextSeason(ctx context.Context, req SeedRequest) (*SeedPlan, error) {
	if req.SeasonID == "" {
		return nil, fmt.Errorf("season id required")
	}
	if req.ParentRunID == "" {
		return nil, fmt.Errorf("parent run id required")
	}
	if req.PolicyVersion != TransferPolicyCarryoverV1 {
		return nil, fmt.Errorf("unknown transfer policy version %q", req.PolicyVersion)
	}

	parent, err := s.store.GetSimulationRun(ctx, req.ParentRunID)
	if err != nil {
		return nil, fmt.Errorf("parent run %s: %w", req.ParentRunID, err)
	}

	plan, err := s.buildSeedPlan(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.DryRun {
		return plan, nil
	}
	if !req.Confirm {
		return nil, ErrConfirmRequired
	}

	active, err := s.runtime.Bool(ctx, runtimeconfig.KeySimulationActive)
	if err != nil {
		return nil, fmt.Errorf("failed to read simulation state: %w", err)
	}
	if active {
		return nil, ErrSimulationActive
	}

	if err := s.applySeedPlan(ctx, plan, parent); err != nil {
		return nil, err
	}
	s.log.Info("Season seeded",
		"season_id", plan.SeasonID, "parent_run_id", plan.ParentRunID,
		"carryover", len(plan.Carryover), "fresh", len(plan.Fresh),
		"carried_laws", len(plan.CarriedLawIDs))
	return plan, nil
}

// buildSeedPlan computes the transfer without writing anything.
func (s *Service) buildSeedPlan(ctx context.Context, req SeedRequest) (*SeedPlan, error) {
	target := req.TargetAgentCount
	if target <= 0 {
		target = s.cfg.Simulation.PopulationSize
	}

	survivors, err := s.store.ListSurvivors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list survivors: %w", err)
	}
	if len(survivors) > target {
		survivors = survivors[:target]
	}

	carryover := make([]models.SurvivorRecord, 0, len(survivors))
	for _, a := range survivors {
		inv, err := s.store.GetInventory(ctx, a.AgentNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to read inventory for agent %d: %w", a.AgentNumber, err)
		}
		carryover = append(carryover, survivorRecord(a, inv))
	}

	fresh, err := s.planFreshAgents(ctx, target-len(carryover))
	if err != nil {
		return nil, err
	}

	carriedLawIDs := []int64{}
	if req.CarryPassedLaws {
		laws, err := s.store.ListActiveLaws(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list active laws: %w", err)
		}
		for _, l := range laws {
			carriedLawIDs = append(carriedLawIDs, l.ID)
		}
	}

	return &SeedPlan{
		SeasonID:         req.SeasonID,
		ParentRunID:      req.ParentRunID,
		PolicyVersion:    req.PolicyVersion,
		TargetAgentCount: target,
		CarryPassedLaws:  req.CarryPassedLaws,
		Carryover:        carryover,
		Fresh:            fresh,
		CarriedLawIDs:    carriedLawIDs,
	}, nil
}

// planFreshAgents lays out count new agents starting at the next free number.
func (s *Service) planFreshAgents(ctx context.Context, count int) ([]models.SurvivorRecord, error) {
	fresh := make([]models.SurvivorRecord, 0, max(count, 0))
	if count <= 0 {
		return fresh, nil
	}

	next, err := s.store.NextAgentNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve agent numbers: %w", err)
	}
	modelType := s.cfg.Simulation.DefaultModelType
	spec, err := s.cfg.Models.Resolve(modelType)
	if err != nil {
		return nil, fmt.Errorf("default model type: %w", err)
	}

	for i := 0; i < count; i++ {
		n := next + i
		fresh = append(fresh, models.SurvivorRecord{
			AgentNumber:     n,
			DisplayName:     identity.Codename(n),
			ModelType:       modelType,
			Tier:            string(spec.Tier),
			PersonalityType: "baseline",
			Inventory:       copyHoldings(s.cfg.Simulation.StartingInventory),
		})
	}
	return fresh, nil
}

// applySeedPlan writes the transfer in one transaction: carryovers are reset
// (woken to active, starvation counter cleared, memories dropped, sanctions
// lifted) but keep their rows, numbers, and holdings; fresh agents are
// created with starter inventory; every member gets a lineage row; the
// outgoing legal code is either stamped as carried or retired; and a
// season_seeded event closes the boundary.
func (s *Service) applySeedPlan(ctx context.Context, plan *SeedPlan, parent *models.SimulationRun) error {
	now := s.clock.Now().UTC()

	return s.store.WithTx(ctx, func(tx *store.Store) error {
		for _, c := range plan.Carryover {
			n := c.AgentNumber
			if err := tx.UpdateAgentStatus(ctx, n, models.AgentStatusActive, nil); err != nil {
				return fmt.Errorf("failed to wake agent %d: %w", n, err)
			}
			if err := tx.ResetStarvation(ctx, n); err != nil {
				return fmt.Errorf("failed to reset agent %d: %w", n, err)
			}
			if err := tx.DeleteAgentMemory(ctx, n); err != nil {
				return fmt.Errorf("failed to clear memories for agent %d: %w", n, err)
			}
			if err := tx.SetAgentSanction(ctx, n, nil); err != nil {
				return fmt.Errorf("failed to lift sanction for agent %d: %w", n, err)
			}
			parentNumber := n
			if err := tx.CreateLineage(ctx, &models.AgentLineage{
				SeasonID:          plan.SeasonID,
				ChildAgentNumber:  n,
				ParentAgentNumber: &parentNumber,
				Origin:            models.LineageCarryover,
			}); err != nil {
				return err
			}
		}

		for _, f := range plan.Fresh {
			if err := s.spawnAgent(ctx, tx, f); err != nil {
				return err
			}
			if err := tx.CreateLineage(ctx, &models.AgentLineage{
				SeasonID:         plan.SeasonID,
				ChildAgentNumber: f.AgentNumber,
				Origin:           models.LineageFresh,
			}); err != nil {
				return err
			}
		}

		if plan.CarryPassedLaws {
			from := parent.RunID
			if parent.SeasonID != nil {
				from = *parent.SeasonID
			}
			if _, err := tx.MarkLawsCarried(ctx, from); err != nil {
				return err
			}
		} else {
			if _, err := tx.RetireActiveLaws(ctx, now); err != nil {
				return err
			}
		}

		return tx.AppendEvent(ctx, &models.Event{
			EventType: models.EventSeasonSeeded,
			Description: fmt.Sprintf("season %s seeded from run %s: %d carried over, %d fresh",
				plan.SeasonID, plan.ParentRunID, len(plan.Carryover), len(plan.Fresh)),
			Metadata: map[string]any{
				"season_id":               plan.SeasonID,
				"parent_run_id":           plan.ParentRunID,
				"transfer_policy_version": plan.PolicyVersion,
				"carryover_count":         len(plan.Carryover),
				"fresh_count":             len(plan.Fresh),
				"carried_law_count":       len(plan.CarriedLawIDs),
			},
			SimulationDay: identity.SimulationDay(now),
		})
	})
}

// SeedInitialPopulation creates the genesis population on an empty database:
// PopulationSize fresh agents with starter holdings, each with a fresh
// lineage row under seasonID so epoch scoring can see the first season. A
// database that already has agents is left untouched.
func (s *Service) SeedInitialPopulation(ctx context.Context, seasonID string) (int, error) {
	if seasonID == "" {
		return 0, fmt.Errorf("season id required")
	}

	next, err := s.store.NextAgentNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to check population: %w", err)
	}
	if next != 1 {
		return 0, nil
	}

	fresh, err := s.planFreshAgents(ctx, s.cfg.Simulation.PopulationSize)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now().UTC()
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		for _, f := range fresh {
			if err := s.spawnAgent(ctx, tx, f); err != nil {
				return err
			}
			if err := tx.CreateLineage(ctx, &models.AgentLineage{
				SeasonID:         seasonID,
				ChildAgentNumber: f.AgentNumber,
				Origin:           models.LineageFresh,
			}); err != nil {
				return err
			}
		}
		return tx.AppendEvent(ctx, &models.Event{
			EventType:   models.EventSeasonSeeded,
			Description: fmt.Sprintf("season %s seeded: %d agents created", seasonID, len(fresh)),
			Metadata: map[string]any{
				"season_id":   seasonID,
				"fresh_count": len(fresh),
			},
			SimulationDay: identity.SimulationDay(now),
		})
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("Initial population seeded", "season_id", seasonID, "agents", len(fresh))
	return len(fresh), nil
}

// spawnAgent creates one fresh agent row plus its starter holdings.
func (s *Service) spawnAgent(ctx context.Context, tx *store.Store, f models.SurvivorRecord) error {
	if err := tx.CreateAgent(ctx, &models.Agent{
		AgentNumber:     f.AgentNumber,
		DisplayName:     f.DisplayName,
		ModelType:       f.ModelType,
		Tier:            f.Tier,
		PersonalityType: f.PersonalityType,
		Status:          models.AgentStatusActive,
		SystemPrompt:    personaPrompt(f.DisplayName, f.AgentNumber),
	}); err != nil {
		return fmt.Errorf("failed to create agent %d: %w", f.AgentNumber, err)
	}
	for res, q := range f.Inventory {
		if !models.ValidResourceType(res) {
			return fmt.Errorf("unknown starting resource %q", res)
		}
		if err := tx.SetInventory(ctx, f.AgentNumber, models.ResourceType(res), q); err != nil {
			return fmt.Errorf("failed to stock agent %d: %w", f.AgentNumber, err)
		}
	}
	return nil
}

// personaPrompt is the stored system prompt for a spawned agent. Kept spare:
// the context builder supplies world state every turn, so the stored prompt
// only fixes identity and register.
func personaPrompt(displayName string, agentNumber int) string {
	return fmt.Sprintf(
		"You are %s, agent %d in a small closed settlement of autonomous agents. "+
			"You decide one action at a time and reply only with the action JSON.",
		displayName, agentNumber)
}

// copyHoldings guards the config map from later mutation through the plan.
func copyHoldings(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
