package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/metrics"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/store"
)

// runDailyConsumption debits every living agent's survival food once per UTC
// date. The scheduler_runs claim and all debits share one transaction, so a
// crash mid-run releases the claim and the next tick repeats the whole day
// cleanly instead of double-debiting part of the population.
func (s *Service) runDailyConsumption(ctx context.Context, now time.Time) error {
	need := s.sim.DailyFoodConsumption
	if need <= 0 {
		return nil
	}
	day := identity.DayKey(now)

	return s.store.WithTx(ctx, func(tx *store.Store) error {
		claimed, err := tx.ClaimDailyJob(ctx, jobDailyConsumption, day)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}

		agents, err := tx.ListAgents(ctx)
		if err != nil {
			return err
		}
		outcomes := map[string]int{}
		for _, a := range agents {
			if a.Status == models.AgentStatusDead {
				continue
			}
			outcome, err := s.consumeDaily(ctx, tx, a, need, day)
			if err != nil {
				return fmt.Errorf("daily consumption for agent %d: %w", a.AgentNumber, err)
			}
			outcomes[outcome]++
		}
		metrics.RecordConsumptionOutcomes(outcomes)
		s.log.Info("Daily consumption applied", "day", day, "outcomes", outcomes)
		return nil
	})
}

// consumeDaily settles one agent's survival debit for the day. A stocked
// larder pays the full need and clears the starvation counter; a short one
// is emptied without advancing the counter; an empty one accrues a
// starvation cycle and crosses the dormant and death thresholds as the
// counter grows. Status moves one way only: a dormant agent keeps starving
// toward death unless a trade or a new season refills it, and nothing here
// wakes an agent back up.
func (s *Service) consumeDaily(ctx context.Context, tx *store.Store, a *models.Agent, need int, day string) (string, error) {
	me := a.AgentNumber

	_, err := tx.AdjustInventory(ctx, me, models.ResourceFood, -need)
	if err == nil {
		if err := tx.RecordTransaction(ctx, &models.Transaction{
			TransactionType: models.TransactionConsumption,
			FromAgentNumber: &me,
			ResourceType:    models.ResourceFood,
			Quantity:        need,
			Metadata:        map[string]any{"day": day},
		}); err != nil {
			return "", err
		}
		return "fed", tx.ResetStarvation(ctx, me)
	}
	if !errors.Is(err, store.ErrInsufficient) {
		return "", err
	}

	// The failed adjust left the inventory row locked for this transaction,
	// so the re-read cannot race a concurrent trade.
	inv, err := tx.GetInventory(ctx, me)
	if err != nil {
		return "", err
	}
	if food := inv[models.ResourceFood]; food > 0 {
		if _, err := tx.AdjustInventory(ctx, me, models.ResourceFood, -food); err != nil {
			return "", err
		}
		if err := tx.RecordTransaction(ctx, &models.Transaction{
			TransactionType: models.TransactionConsumption,
			FromAgentNumber: &me,
			ResourceType:    models.ResourceFood,
			Quantity:        food,
			Metadata:        map[string]any{"day": day, "partial": true},
		}); err != nil {
			return "", err
		}
		return "partial", nil
	}

	cycles, err := tx.IncrementStarvation(ctx, me)
	if err != nil {
		return "", err
	}
	switch {
	case cycles >= s.sim.StarvationDeathThreshold:
		cause := "starvation"
		if err := tx.UpdateAgentStatus(ctx, me, models.AgentStatusDead, &cause); err != nil {
			return "", err
		}
		if err := tx.AppendEvent(ctx, &models.Event{
			EventType:     models.EventAgentDied,
			AgentNumber:   &me,
			Description:   fmt.Sprintf("%s died of starvation after %d unfed days", a.DisplayName, cycles),
			Metadata:      map[string]any{"cause": "starvation", "starvation_cycles": cycles},
			SimulationDay: day,
		}); err != nil {
			return "", err
		}
		return "died", nil

	case cycles >= s.sim.StarvationDormantThreshold && a.Status == models.AgentStatusActive:
		if err := tx.UpdateAgentStatus(ctx, me, models.AgentStatusDormant, nil); err != nil {
			return "", err
		}
		if err := tx.AppendEvent(ctx, &models.Event{
			EventType:     models.EventAgentDormant,
			AgentNumber:   &me,
			Description:   fmt.Sprintf("%s went dormant after %d unfed days", a.DisplayName, cycles),
			Metadata:      map[string]any{"starvation_cycles": cycles},
			SimulationDay: day,
		}); err != nil {
			return "", err
		}
		return "dormant", nil
	}
	return "starving", nil
}
