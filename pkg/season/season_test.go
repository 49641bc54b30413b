package season

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polis-labs/polis/pkg/config"
	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/store"
	"github.com/polis-labs/polis/test/util"
)

func newTestService(t *testing.T, mutate func(*config.Config)) (*Service, *store.Store, *identity.StepClock, *runtimeconfig.Service) {
	t.Helper()
	_, st := util.SetupTestDatabase(t)
	cfg, err := config.Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}
	clock := identity.NewStepClock(time.Date(2026, 5, 12, 9, 30, 0, 0, time.UTC))
	runtime := runtimeconfig.NewService(st, cfg, clock)
	return NewService(st, cfg, runtime, clock), st, clock, runtime
}

func seedAgent(t *testing.T, st *store.Store, n int, inv models.Inventory) *models.Agent {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateAgent(ctx, &models.Agent{
		AgentNumber:     n,
		DisplayName:     identity.Codename(n),
		ModelType:       "gpt-4o-mini",
		Tier:            "standard",
		PersonalityType: "baseline",
		Status:          models.AgentStatusActive,
		SystemPrompt:    "you are a careful planner",
	}))
	for rt, q := range inv {
		require.NoError(t, st.SetInventory(ctx, n, rt, q))
	}
	got, err := st.GetAgent(ctx, n)
	require.NoError(t, err)
	return got
}

// seedRun registers one run; ids are UUIDs per the schema.
func seedRun(t *testing.T, st *store.Store, seasonID *string, started time.Time, ended *time.Time) *models.SimulationRun {
	t.Helper()
	ctx := context.Background()
	run := &models.SimulationRun{
		RunID:           uuid.NewString(),
		RunMode:         models.RunModeReal,
		RunClass:        models.RunClassStandard72h,
		ProtocolVersion: "polis-protocol-2",
		SeasonID:        seasonID,
		StartedAt:       started,
	}
	require.NoError(t, st.CreateSimulationRun(ctx, run))
	if ended != nil {
		require.NoError(t, st.EndSimulationRun(ctx, run.RunID, *ended))
	}
	return run
}

func listEvents(t *testing.T, st *store.Store) []*models.Event {
	t.Helper()
	events, err := st.ListEventsSince(context.Background(), 0, 100)
	require.NoError(t, err)
	return events
}

func strPtr(s string) *string { return &s }

func timePtr(ts time.Time) *time.Time { return &ts }

func TestExportSeasonSnapshotDryRun(t *testing.T) {
	svc, st, clock, _ := newTestService(t, nil)
	ctx := context.Background()

	seedAgent(t, st, 1, models.Inventory{
		models.ResourceFood:      4,
		models.ResourceEnergy:    2,
		models.ResourceMaterials: 1,
	})
	seedAgent(t, st, 2, nil)
	require.NoError(t, st.UpdateAgentStatus(ctx, 2, models.AgentStatusDead, strPtr("starvation")))
	seedAgent(t, st, 3, nil)
	require.NoError(t, st.SetAgentExiled(ctx, 3, true))

	// Dry run never touches the run table, so no registered run is needed.
	runID := uuid.NewString()
	snap, err := svc.ExportSeasonSnapshot(ctx, runID, models.SnapshotTypeSurvivorsV1, true)
	require.NoError(t, err)

	assert.Equal(t, runID, snap.Payload.RunID)
	assert.Equal(t, models.SnapshotTypeSurvivorsV1, snap.Payload.SnapshotType)
	assert.True(t, snap.Payload.ExportedAt.Equal(clock.Now()))

	require.Len(t, snap.Payload.Survivors, 1, "dead and exiled agents are not survivors")
	rec := snap.Payload.Survivors[0]
	assert.Equal(t, 1, rec.AgentNumber)
	assert.Equal(t, identity.Codename(1), rec.DisplayName)
	assert.Equal(t, "gpt-4o-mini", rec.ModelType)
	assert.Equal(t, "standard", rec.Tier)
	assert.Equal(t, "baseline", rec.PersonalityType)
	assert.Equal(t, map[string]int{"energy": 2, "food": 4, "materials": 1}, rec.Inventory)

	_, err = st.GetSeasonSnapshot(ctx, runID, models.SnapshotTypeSurvivorsV1)
	assert.ErrorIs(t, err, store.ErrNotFound, "dry run must not persist")
}

func TestExportSeasonSnapshotPersistsOnce(t *testing.T) {
	svc, st, clock, _ := newTestService(t, nil)
	ctx := context.Background()

	run := seedRun(t, st, strPtr("s1"),
		clock.Now().Add(-72*time.Hour), timePtr(clock.Now().Add(-time.Hour)))
	seedAgent(t, st, 1, models.Inventory{models.ResourceFood: 6})

	snap, err := svc.ExportSeasonSnapshot(ctx, run.RunID, models.SnapshotTypeSurvivorsV1, false)
	require.NoError(t, err)

	got, err := st.GetSeasonSnapshot(ctx, run.RunID, models.SnapshotTypeSurvivorsV1)
	require.NoError(t, err)
	assert.NotZero(t, got.ID)
	assert.Equal(t, snap.Payload.Survivors, got.Payload.Survivors)
	require.Len(t, got.Payload.Survivors, 1)
	assert.Equal(t, 6, got.Payload.Survivors[0].Inventory["food"])

	_, err = svc.ExportSeasonSnapshot(ctx, run.RunID, models.SnapshotTypeSurvivorsV1, false)
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestExportSeasonSnapshotUnknownRun(t *testing.T) {
	svc, st, _, _ := newTestService(t, nil)
	ctx := context.Background()
	seedAgent(t, st, 1, nil)

	_, err := svc.ExportSeasonSnapshot(ctx, uuid.NewString(), models.SnapshotTypeSurvivorsV1, false)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExportSeasonSnapshotRejectsUnknownType(t *testing.T) {
	svc, _, _, _ := newTestService(t, nil)

	_, err := svc.ExportSeasonSnapshot(context.Background(), uuid.NewString(), "survivors_v2", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported snapshot type "survivors_v2"`)
}
