// Package budget maintains day-keyed model usage aggregates and answers the
// two questions the rest of the system asks: how much has today cost, and
// may a non-critical call proceed.
package budget

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polis-labs/polis/pkg/config"
	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/store"
)

// Service aggregates llm_usage rows per UTC day.
type Service struct {
	store   *store.Store
	models  *config.ModelRegistry
	runtime *runtimeconfig.Service
	clock   identity.Clock
	log     *slog.Logger
}

// NewService builds the budget view over the usage ledger.
func NewService(st *store.Store, registry *config.ModelRegistry, runtime *runtimeconfig.Service, clock identity.Clock) *Service {
	return &Service{
		store:   st,
		models:  registry,
		runtime: runtime,
		clock:   clock,
		log:     slog.With("component", "budget"),
	}
}

// Snapshot returns the aggregate for one usage day with free-tier
// utilization filled in: the highest calls/allowance ratio across models
// that carry a daily free-tier allowance.
func (s *Service) Snapshot(ctx context.Context, day string) (*models.UsageSnapshot, error) {
	snap, err := s.store.UsageSummary(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to build usage snapshot: %w", err)
	}

	byModel, err := s.store.CountCallsByModelType(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to build usage snapshot: %w", err)
	}
	var maxUtil float64
	for modelType, spec := range s.models.GetAll() {
		if spec.FreeTierDailyCalls <= 0 {
			continue
		}
		util := float64(byModel[modelType]) / float64(spec.FreeTierDailyCalls)
		if util > maxUtil {
			maxUtil = util
		}
	}
	snap.FreeTierUtilization = maxUtil
	return snap, nil
}

// TodaySnapshot returns the aggregate for the current UTC day.
func (s *Service) TodaySnapshot(ctx context.Context) (*models.UsageSnapshot, error) {
	return s.Snapshot(ctx, identity.DayKey(s.clock.Now()))
}

// SoftBudgetExceeded reports whether today's estimated cost has reached the
// soft ceiling (runtime-config override aware).
func (s *Service) SoftBudgetExceeded(ctx context.Context) (bool, error) {
	snap, err := s.TodaySnapshot(ctx)
	if err != nil {
		return false, err
	}
	limit, err := s.runtime.Float(ctx, runtimeconfig.KeySoftBudgetUSD)
	if err != nil {
		return false, err
	}
	return snap.EstimatedCostUSD >= limit, nil
}

// AllowNonCritical gates calls the simulation can live without (checkpoint
// refreshes, retrospective summaries). It fails open: if the ledger cannot
// be read the call proceeds and the hard-budget guardrail remains the
// backstop.
func (s *Service) AllowNonCritical(ctx context.Context) bool {
	exceeded, err := s.SoftBudgetExceeded(ctx)
	if err != nil {
		s.log.Warn("Soft budget check failed, allowing call", "error", err)
		return true
	}
	if exceeded {
		s.log.Info("Soft budget reached, throttling non-critical call")
	}
	return !exceeded
}
