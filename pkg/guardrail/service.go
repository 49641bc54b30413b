// Package guardrail decides when the simulation must stop: daily spend past
// the hard ceiling, provider failures piling up inside a window, or sustained
// database pool pressure. A stop flips SIMULATION_PAUSED through runtime
// config and appends a simulation_paused event; the processors and scheduler
// observe the flag on their next turn.
package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polis-labs/polis/pkg/budget"
	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/metrics"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/store"
)

// Stop reasons, recorded in PAUSE_REASON and on the simulation_paused event.
const (
	ReasonHardBudget       = "hard_budget_exceeded"
	ReasonProviderFailures = "provider_failures"
	ReasonDBPoolPressure   = "db_pool_pressure"
)

// StopDecision is the verdict of one evaluation. Details carries the numeric
// evidence (thresholds and observed values) for the audit trail.
type StopDecision struct {
	ShouldStop bool           `json:"should_stop"`
	Reason     string         `json:"reason,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// PoolStats reports connection pool pressure. *database.Client implements it.
type PoolStats interface {
	PoolUtilization() float64
}

// Service evaluates stop conditions. The consecutive-breach counter for pool
// pressure lives in the service, so one Service instance must serve all
// callers in the process.
type Service struct {
	store   *store.Store
	budget  *budget.Service
	runtime *runtimeconfig.Service
	pool    PoolStats
	clock   identity.Clock
	log     *slog.Logger

	mu           sync.Mutex
	poolBreaches int
}

// NewService wires the guardrail over the usage ledger and the pool.
func NewService(st *store.Store, bdg *budget.Service, runtime *runtimeconfig.Service, pool PoolStats, clock identity.Clock) *Service {
	return &Service{
		store:   st,
		budget:  bdg,
		runtime: runtime,
		pool:    pool,
		clock:   clock,
		log:     slog.With("component", "guardrail"),
	}
}

// Evaluate runs the stop checks in severity order: hard budget, provider
// failures, pool pressure. The first breached condition wins. When
// enforcement is disabled the answer is always no-stop and the pool counter
// resets so a later re-enable starts clean.
func (s *Service) Evaluate(ctx context.Context) (StopDecision, error) {
	enabled, err := s.runtime.Bool(ctx, runtimeconfig.KeyStopEnforcementEnabled)
	if err != nil {
		return StopDecision{}, fmt.Errorf("failed to read stop enforcement flag: %w", err)
	}
	if !enabled {
		s.resetPoolBreaches()
		return StopDecision{}, nil
	}

	if d, err := s.checkHardBudget(ctx); err != nil || d.ShouldStop {
		return d, err
	}
	if d, err := s.checkProviderFailures(ctx); err != nil || d.ShouldStop {
		return d, err
	}
	return s.checkPoolPressure(ctx)
}

func (s *Service) checkHardBudget(ctx context.Context) (StopDecision, error) {
	snap, err := s.budget.TodaySnapshot(ctx)
	if err != nil {
		return StopDecision{}, fmt.Errorf("failed to read usage snapshot: %w", err)
	}
	hard, err := s.runtime.Float(ctx, runtimeconfig.KeyHardBudgetUSD)
	if err != nil {
		return StopDecision{}, err
	}
	if snap.EstimatedCostUSD < hard {
		return StopDecision{}, nil
	}
	return StopDecision{
		ShouldStop: true,
		Reason:     ReasonHardBudget,
		Details: map[string]any{
			"hard_budget_usd":    hard,
			"estimated_cost_usd": snap.EstimatedCostUSD,
			"usage_day":          snap.UsageDay,
		},
	}, nil
}

func (s *Service) checkProviderFailures(ctx context.Context) (StopDecision, error) {
	windowMin, err := s.runtime.Int(ctx, runtimeconfig.KeyProviderFailureWindowMinutes)
	if err != nil {
		return StopDecision{}, err
	}
	threshold, err := s.runtime.Int(ctx, runtimeconfig.KeyProviderFailureThreshold)
	if err != nil {
		return StopDecision{}, err
	}
	since := s.clock.Now().Add(-time.Duration(windowMin) * time.Minute)
	failures, err := s.store.CountProviderFailuresSince(ctx, since)
	if err != nil {
		return StopDecision{}, fmt.Errorf("failed to count provider failures: %w", err)
	}
	if failures <= threshold {
		return StopDecision{}, nil
	}
	return StopDecision{
		ShouldStop: true,
		Reason:     ReasonProviderFailures,
		Details: map[string]any{
			"failures":       failures,
			"threshold":      threshold,
			"window_minutes": windowMin,
		},
	}, nil
}

// checkPoolPressure requires the utilization threshold to be breached on N
// consecutive evaluations before stopping. A single spike during a burst of
// agent turns is expected; sustained saturation is not.
func (s *Service) checkPoolPressure(ctx context.Context) (StopDecision, error) {
	threshold, err := s.runtime.Float(ctx, runtimeconfig.KeyDBPoolUtilizationThreshold)
	if err != nil {
		return StopDecision{}, err
	}
	required, err := s.runtime.Int(ctx, runtimeconfig.KeyDBPoolConsecutiveChecks)
	if err != nil {
		return StopDecision{}, err
	}

	util := s.pool.PoolUtilization()

	s.mu.Lock()
	if util >= threshold {
		s.poolBreaches++
	} else {
		s.poolBreaches = 0
	}
	breaches := s.poolBreaches
	s.mu.Unlock()

	if breaches < required {
		return StopDecision{}, nil
	}
	return StopDecision{
		ShouldStop: true,
		Reason:     ReasonDBPoolPressure,
		Details: map[string]any{
			"utilization":        util,
			"threshold":          threshold,
			"consecutive_checks": breaches,
		},
	}, nil
}

func (s *Service) resetPoolBreaches() {
	s.mu.Lock()
	s.poolBreaches = 0
	s.mu.Unlock()
}

// Trip pauses the simulation for the given decision: SIMULATION_PAUSED and
// PAUSE_REASON are written through runtime config (audited) and a
// simulation_paused event is appended. Idempotent in effect; calling it
// twice records a second audit row but the same paused state.
func (s *Service) Trip(ctx context.Context, d StopDecision) error {
	if !d.ShouldStop {
		return nil
	}
	updates := map[string]string{
		runtimeconfig.KeySimulationPaused: "true",
		runtimeconfig.KeyPauseReason:      d.Reason,
	}
	if err := s.runtime.UpdateSettings(ctx, updates, "guardrail", d.Reason); err != nil {
		return fmt.Errorf("failed to pause simulation: %w", err)
	}
	if err := s.store.AppendEvent(ctx, &models.Event{
		EventType:     models.EventSimulationPaused,
		Description:   fmt.Sprintf("simulation paused by guardrail: %s", d.Reason),
		Metadata:      map[string]any{"reason": d.Reason, "details": d.Details},
		SimulationDay: identity.SimulationDay(s.clock.Now()),
	}); err != nil {
		return fmt.Errorf("failed to append simulation_paused event: %w", err)
	}
	metrics.RecordGuardrailTrip(d.Reason)
	s.log.Warn("Simulation paused", "reason", d.Reason, "details", d.Details)
	return nil
}

// Run evaluates on a fixed interval until the context is cancelled. A stop
// decision trips the pause and the loop keeps running so a manual resume is
// re-guarded immediately.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("Guardrail watcher started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Guardrail watcher stopped")
			return nil
		case <-ticker.C:
			d, err := s.Evaluate(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.log.Error("Guardrail evaluation failed", "error", err)
				continue
			}
			if !d.ShouldStop {
				continue
			}
			if s.runtime.CachedBool(runtimeconfig.KeySimulationPaused) {
				continue // already paused; do not re-audit every tick
			}
			if err := s.Trip(ctx, d); err != nil {
				s.log.Error("Failed to trip guardrail", "error", err)
			}
		}
	}
}
