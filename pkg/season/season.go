// Package season handles the boundaries between simulation seasons: exporting
// a survivor snapshot when a run closes, seeding the next season's population
// under a transfer policy, and ranking champions across seasons at epoch end.
// Seeding is the only write path here that touches live population state, so
// it refuses to run while the simulation is active and applies its whole plan
// in one transaction.
package season

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

// Service owns the season transfer pipeline and the epoch tournament.
type Service struct {
	store   *store.Store
	cfg     *config.Config
	runtime *runtimeconfig.Service
	clock   identity.Clock
	log     *slog.Logger
}

// NewService wires the season pipeline over the store and the runtime flags.
func NewService(st *store.Store, cfg *config.Config, runtime *runtimeconfig.Service, clock identity.Clock) *Service {
	return &Service{
		store:   st,
		cfg:     cfg,
		runtime: runtime,
		clock:   clock,
		log:     slog.With("component", "season"),
	}
}

// ExportSeasonSnapshot serializes the current survivors (not dead, not
// exiled) into a survivors_v1 payload for runID. With dryRun the snapshot is
// returned without being persisted and the run id is not checked; otherwise
// the insert enforces that the run exists (store.ErrNotFound) and that no
// snapshot of this type exists for the run yet (store.ErrDuplicate).
func (s *Service) ExportSeasonSnapshot(ctx context.Context, runID, snapshotType string, dryRun bool) (*models.SeasonSnapshot, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id required")
	}
	if snapshotType != models.SnapshotTypeSurvivorsV1 {
		return nil, fmt.Errorf("unsupported snapshot type %q", snapshotType)
	}

	survivors, err := s.store.ListSurvivors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list survivors: %w", err)
	}

	records := make([]models.SurvivorRecord, 0, len(survivors))
	for _, a := range survivors {
		inv, err := s.store.GetInventory(ctx, a.AgentNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to read inventory for agent %d: %w", a.AgentNumber, err)
		}
		records = append(records, survivorRecord(a, inv))
	}

	snap := &models.SeasonSnapshot{
		RunID:        runID,
		SnapshotType: snapshotType,
		Payload: models.SurvivorPayload{
			SnapshotType: snapshotType,
			RunID:        runID,
			ExportedAt:   s.clock.Now().UTC(),
			Survivors:    records,
		},
	}
	if dryRun {
		return snap, nil
	}

	if err := s.store.CreateSeasonSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	s.log.Info("Season snapshot exported",
		"run_id", runID, "snapshot_type", snapshotType, "survivors", len(records))
	return snap, nil
}

// survivorRecord flattens one agent row plus holdings into the snapshot and
// seed-plan shape.
func survivorRecord(a *models.Agent, inv models.Inventory) models.SurvivorRecord {
	holdings := make(map[string]int, len(inv))
	for rt, q := range inv {
		holdings[string(rt)] = q
	}
	return models.SurvivorRecord{
		AgentNumber:     a.AgentNumber,
		DisplayName:     a.DisplayName,
		ModelType:       a.ModelType,
		Tier:            a.Tier,
		PersonalityType: a.PersonalityType,
		Inventory:       holdings,
	}
}
