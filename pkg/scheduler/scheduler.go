// Package scheduler runs the wall-clock jobs that move the world forward
// between agent turns: the daily survival debit, resolution of proposals and
// enforcement motions whose voting windows have closed, and the end-of-day
// emergence metrics snapshot. One loop, one tick; every job is idempotent on
// a natural key (UTC day, proposal id, enforcement id), so restarts and
// overlapping replicas never double-apply a day or a verdict.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/polis-labs/polis/pkg/config"
	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/store"
)

// jobDailyConsumption is the scheduler_runs claim key for the survival debit.
const jobDailyConsumption = "daily_consumption"

// Service owns the scheduler loop.
type Service struct {
	store   *store.Store
	runtime *runtimeconfig.Service
	sim     *config.SimulationConfig
	clock   identity.Clock
	log     *slog.Logger
}

// NewService wires the scheduler over the store and the runtime flags.
func NewService(st *store.Store, cfg *config.Config, runtime *runtimeconfig.Service, clock identity.Clock) *Service {
	return &Service{
		store:   st,
		runtime: runtime,
		sim:     cfg.Simulation,
		clock:   clock,
		log:     slog.With("component", "scheduler"),
	}
}

// Run ticks until the context is cancelled. Cancellation is a clean exit:
// whatever job is mid-transaction commits or rolls back whole, and the next
// start re-runs only what its natural key left unclaimed.
func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.sim.SchedulerTickSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("Scheduler started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			if !s.simulationRunning() {
				continue
			}
			s.tick(ctx)
		}
	}
}

// simulationRunning mirrors the processor's gate: a paused or not yet
// started world does not consume, resolve, or measure.
func (s *Service) simulationRunning() bool {
	return s.runtime.CachedBool(runtimeconfig.KeySimulationActive) &&
		!s.runtime.CachedBool(runtimeconfig.KeySimulationPaused)
}

// tick runs every due job once. Job errors are logged rather than returned:
// a failing job must not starve the others, and whatever it left unclaimed
// is retried on the next tick.
func (s *Service) tick(ctx context.Context) {
	now := s.clock.Now()

	if err := s.runDailyConsumption(ctx, now); err != nil {
		s.log.Error("Daily consumption failed", "error", err)
	}
	if err := s.resolveProposals(ctx, now); err != nil {
		s.log.Error("Proposal resolution failed", "error", err)
	}
	if err := s.resolveEnforcements(ctx, now); err != nil {
		s.log.Error("Enforcement resolution failed", "error", err)
	}
	if err := s.snapshotEmergence(ctx, now); err != nil {
		s.log.Error("Emergence snapshot failed", "error", err)
	}
}
