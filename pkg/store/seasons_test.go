package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/store"
	"github.com/polis-labs/polis/test/util"
)

// These tests pin the schema-level guarantees the season pipeline leans on:
// the snapshot foreign key, the (run, type) and (season, child) uniqueness,
// and the lineage origin CHECK. Services assume the database enforces these,
// so they are proven here against the real migrations.

func newStore(t *testing.T) *store.Store {
	t.Helper()
	_, st := util.SetupTestDatabase(t)
	return st
}

func seedRun(t *testing.T, st *store.Store) string {
	t.Helper()
	runID := uuid.NewString()
	require.NoError(t, st.CreateSimulationRun(context.Background(), &models.SimulationRun{
		RunID:           runID,
		RunMode:         models.RunModeReal,
		RunClass:        models.RunClassStandard72h,
		ProtocolVersion: "polis-protocol-2",
		StartedAt:       time.Now().UTC(),
	}))
	return runID
}

func survivorsPayload(runID string) models.SurvivorPayload {
	return models.SurvivorPayload{
		SnapshotType: models.SnapshotTypeSurvivorsV1,
		RunID:        runID,
		ExportedAt:   time.Now().UTC(),
	}
}

func TestCreateSeasonSnapshotUnknownRunIsNotFound(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	// Well-formed UUID, no matching simulation_runs row: the foreign key
	// rejects the insert and the store maps it to ErrNotFound.
	runID := uuid.NewString()
	err := st.CreateSeasonSnapshot(ctx, &models.SeasonSnapshot{
		RunID:        runID,
		SnapshotType: models.SnapshotTypeSurvivorsV1,
		Payload:      survivorsPayload(runID),
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSeasonSnapshotDuplicateTypeIsDuplicate(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	runID := seedRun(t, st)

	snap := &models.SeasonSnapshot{
		RunID:        runID,
		SnapshotType: models.SnapshotTypeSurvivorsV1,
		Payload:      survivorsPayload(runID),
	}
	require.NoError(t, st.CreateSeasonSnapshot(ctx, snap))
	assert.Positive(t, snap.ID)

	err := st.CreateSeasonSnapshot(ctx, &models.SeasonSnapshot{
		RunID:        runID,
		SnapshotType: models.SnapshotTypeSurvivorsV1,
		Payload:      survivorsPayload(runID),
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestCreateLineageRejectsUnknownOrigin(t *testing.T) {
	st := newStore(t)

	err := st.CreateLineage(context.Background(), &models.AgentLineage{
		SeasonID:         "season-001",
		ChildAgentNumber: 1,
		Origin:           models.LineageOrigin("invalid"),
	})
	require.Error(t, err)
	assert.True(t, store.IsCheckViolation(err), "origin CHECK should reject %v", err)
}

func TestCreateLineageCarryoverRequiresParent(t *testing.T) {
	st := newStore(t)

	err := st.CreateLineage(context.Background(), &models.AgentLineage{
		SeasonID:         "season-002",
		ChildAgentNumber: 1,
		Origin:           models.LineageCarryover,
	})
	require.Error(t, err)
	assert.True(t, store.IsCheckViolation(err), "carryover without parent should hit the CHECK, got %v", err)
}

func TestCreateLineageDuplicateChildIsDuplicate(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	first := &models.AgentLineage{
		SeasonID:         "season-001",
		ChildAgentNumber: 7,
		Origin:           models.LineageFresh,
	}
	require.NoError(t, st.CreateLineage(ctx, first))
	assert.Positive(t, first.ID)

	err := st.CreateLineage(ctx, &models.AgentLineage{
		SeasonID:         "season-001",
		ChildAgentNumber: 7,
		Origin:           models.LineageFresh,
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	// Same child in a different season is a fresh pair, not a duplicate.
	parent := 7
	require.NoError(t, st.CreateLineage(ctx, &models.AgentLineage{
		SeasonID:          "season-002",
		ChildAgentNumber:  7,
		ParentAgentNumber: &parent,
		Origin:            models.LineageCarryover,
	}))
}
