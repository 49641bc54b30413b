// Package e2e runs the season lifecycle end to end against a real database:
// genesis seeding, processor turns, snapshot export, season transfer, the
// epoch tournament, and the report artifacts a finished run leaves behind.
package e2e

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/polis-labs/polis/pkg/budget"
	"github.com/polis-labs/polis/pkg/config"
	"github.com/polis-labs/polis/pkg/dispatch"
	"github.com/polis-labs/polis/pkg/engine"
	"github.com/polis-labs/polis/pkg/guardrail"
	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/processor"
	"github.com/polis-labs/polis/pkg/reports"
	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/season"
	"github.com/polis-labs/polis/pkg/store"
	"github.com/polis-labs/polis/test/util"
)

// farmDecider stands in for model dispatch: every agent farms. Everything
// downstream of the decision (validation, execution, events, transactions)
// is the real pipeline.
type farmDecider struct{}

func (farmDecider) Decide(_ context.Context, in dispatch.DecideInput) dispatch.Decision {
	return dispatch.Decision{
		Action:        &engine.Action{Type: engine.ActionWork, Job: "farm"},
		Provider:      "scripted",
		ResolvedModel: in.ModelType,
		Attempts:      1,
	}
}

func TestSeasonLifecycle(t *testing.T) {
	db, st := util.SetupTestDatabase(t)
	// Snapshot after the fixture: the connection pool's own goroutines live
	// until t.Cleanup, which runs after this defer fires.
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg, err := config.Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	cfg.Simulation.PopulationSize = 4
	cfg.Simulation.ProcessorWorkers = 2
	cfg.Simulation.ProcessorPollSeconds = 1
	cfg.Reports.OutputDir = t.TempDir()

	// The database stamps rows with its own now(). The logical clock sits in
	// the far future so wall-stamped rows land inside the run window.
	clock := identity.NewStepClock(time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC))
	runtime := runtimeconfig.NewService(st, cfg, clock)
	budgetSvc := budget.NewService(st, cfg.Models, runtime, clock)
	guard := guardrail.NewService(st, budgetSvc, runtime, db, clock)
	seasonSvc := season.NewService(st, cfg, runtime, clock)
	reportSvc := reports.NewService(st, cfg, clock)
	ctx := context.Background()

	// Genesis: a fresh population with lineage rows under the first season.
	created, err := seasonSvc.SeedInitialPopulation(ctx, "season-001")
	require.NoError(t, err)
	require.Equal(t, 4, created)

	again, err := seasonSvc.SeedInitialPopulation(ctx, "season-001")
	require.NoError(t, err)
	assert.Zero(t, again, "a populated database is left untouched")

	seasonID := "season-001"
	runID := uuid.NewString()
	require.NoError(t, st.CreateSimulationRun(ctx, &models.SimulationRun{
		RunID:           runID,
		RunMode:         models.RunModeReal,
		RunClass:        models.RunClassStandard72h,
		ProtocolVersion: cfg.Simulation.ProtocolVersion,
		SeasonID:        &seasonID,
		StartedAt:       time.Now().UTC().Add(-time.Hour),
	}))
	require.NoError(t, runtime.UpdateSettings(ctx, map[string]string{
		runtimeconfig.KeySimulationActive: "true",
		runtimeconfig.KeyCurrentRunID:     runID,
	}, "e2e", "season kickoff"))
	require.NoError(t, runtime.Refresh(ctx))

	// Run the pool, behind the real guardrail, until every agent has taken
	// one turn. Claiming reschedules each next checkpoint hours out, so the
	// population settles at exactly one action apiece.
	pool := processor.NewPool(st, cfg, farmDecider{}, guard, runtime, clock)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- pool.Run(runCtx) }()

	require.Eventually(t, func() bool {
		return countEvents(t, st, models.EventActionExecuted) == 4
	}, 20*time.Second, 100*time.Millisecond, "every agent should farm once")

	cancel()
	require.NoError(t, <-done)

	// The farm yield moved from the shared pool into private holdings.
	yield := cfg.Simulation.WorkBaseRates["farm"]
	inv, err := st.GetInventory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, cfg.Simulation.StartingInventory["food"]+yield, inv[models.ResourceFood])

	global, err := st.GetGlobalResources(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000-4*yield, global.Food)

	// Wrap the run: deactivate, stamp the end, snapshot the survivors.
	require.NoError(t, runtime.UpdateSettings(ctx, map[string]string{
		runtimeconfig.KeySimulationActive: "false",
	}, "e2e", "season wrap"))
	require.NoError(t, st.EndSimulationRun(ctx, runID, clock.Now()))

	snap, err := seasonSvc.ExportSeasonSnapshot(ctx, runID, models.SnapshotTypeSurvivorsV1, false)
	require.NoError(t, err)
	assert.Len(t, snap.Payload.Survivors, 4)

	// Transfer into season-002 with two extra slots.
	plan, err := seasonSvc.SeedNextSeason(ctx, season.SeedRequest{
		SeasonID:         "season-002",
		ParentRunID:      runID,
		PolicyVersion:    season.TransferPolicyCarryoverV1,
		TargetAgentCount: 6,
		Confirm:          true,
	})
	require.NoError(t, err)
	assert.Len(t, plan.Carryover, 4)
	assert.Len(t, plan.Fresh, 2)

	survivors, err := st.ListSurvivors(ctx)
	require.NoError(t, err)
	assert.Len(t, survivors, 6)

	carried, err := st.GetInventory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, inv[models.ResourceFood], carried[models.ResourceFood],
		"holdings cross the season boundary")

	// Epoch tournament over the finished season. Scores are identical (same
	// holdings, same lifetime, no laws), so the tie-break on agent number
	// decides the podium.
	epochID := uuid.NewString()
	champs, err := seasonSvc.SelectChampions(ctx, season.EpochRequest{
		EpochID:            epochID,
		SeasonIDs:          []string{"season-001"},
		ChampionsPerSeason: 2,
	})
	require.NoError(t, err)
	require.Len(t, champs, 2)
	assert.Equal(t, 1, champs[0].AgentNumber)
	assert.Equal(t, 2, champs[1].AgentNumber)

	epochArtifact, err := reportSvc.WriteEpochReport(ctx, epochID, champs)
	require.NoError(t, err)
	assertArtifactPair(t, epochArtifact)

	runArtifact, err := reportSvc.ExportRunReport(ctx, runID)
	require.NoError(t, err)
	assertArtifactPair(t, runArtifact)

	var report reports.RunReport
	raw, err := os.ReadFile(runArtifact.PathJSON)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, runID, report.Run.RunID)
	assert.Equal(t, 6, report.Population.Total)
	assert.Equal(t, 4, report.Activity.EventsByType[models.EventActionExecuted])

	// The ledger carries the whole story in append order: genesis first,
	// the four turns in the middle, the transfer last.
	events, err := st.ListEventsSince(ctx, 0, 100)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, models.EventSeasonSeeded, events[0].EventType)
	assert.Equal(t, models.EventSeasonSeeded, events[len(events)-1].EventType)
	assert.Equal(t, 4, countEvents(t, st, models.EventActionExecuted))
}

func countEvents(t *testing.T, st *store.Store, eventType string) int {
	t.Helper()
	events, err := st.ListEventsSince(context.Background(), 0, 100)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// assertArtifactPair checks the registered artifact points at files that
// actually landed on disk.
func assertArtifactPair(t *testing.T, a *models.RunReportArtifact) {
	t.Helper()
	require.NotNil(t, a)
	for _, path := range []string{a.PathJSON, a.PathMarkdown} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}
