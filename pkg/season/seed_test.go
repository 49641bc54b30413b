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
)

// seedLaw plants an already-passed proposal and its law so the carry and
// retire paths have a legal code to act on.
func seedLaw(t *testing.T, st *store.Store, author int, title string) *models.Law {
	t.Helper()
	ctx := context.Background()
	p := &models.Proposal{
		AuthorAgentNumber: author,
		ProposalType:      models.ProposalTypeLaw,
		Title:             title,
		Description:       "seeded for tests",
		VotingClosesAt:    time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, st.CreateProposal(ctx, p))
	won, err := st.ResolveProposal(ctx, p.ID, models.ProposalStatusPassed,
		time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, won)
	l := &models.Law{
		Title:             title,
		Description:       "seeded for tests",
		AuthorAgentNumber: author,
		ProposalID:        p.ID,
	}
	require.NoError(t, st.CreateLaw(ctx, l))
	return l
}

func TestSeedNextSeasonDryRunMatchesRealPlan(t *testing.T) {
	svc, st, clock, _ := newTestService(t, nil)
	ctx := context.Background()

	run := seedRun(t, st, strPtr("s1"),
		clock.Now().Add(-72*time.Hour), timePtr(clock.Now().Add(-time.Hour)))
	seedAgent(t, st, 1, models.Inventory{models.ResourceFood: 7, models.ResourceEnergy: 2})
	seedAgent(t, st, 2, nil)
	require.NoError(t, st.UpdateAgentStatus(ctx, 2, models.AgentStatusDead, strPtr("starvation")))

	req := SeedRequest{
		SeasonID:         "s2",
		ParentRunID:      run.RunID,
		PolicyVersion:    TransferPolicyCarryoverV1,
		TargetAgentCount: 3,
	}

	dry := req
	dry.DryRun = true
	dryPlan, err := svc.SeedNextSeason(ctx, dry)
	require.NoError(t, err)
	dryJSON, err := dryPlan.JSON()
	require.NoError(t, err)

	real := req
	real.Confirm = true
	realPlan, err := svc.SeedNextSeason(ctx, real)
	require.NoError(t, err)
	realJSON, err := realPlan.JSON()
	require.NoError(t, err)

	assert.Equal(t, string(dryJSON), string(realJSON))

	require.Len(t, realPlan.Carryover, 1)
	assert.Equal(t, 1, realPlan.Carryover[0].AgentNumber)
	assert.Equal(t, map[string]int{"energy": 2, "food": 7, "materials": 0},
		realPlan.Carryover[0].Inventory)

	require.Len(t, realPlan.Fresh, 2, "fresh agents fill the remaining slots")
	assert.Equal(t, 3, realPlan.Fresh[0].AgentNumber)
	assert.Equal(t, 4, realPlan.Fresh[1].AgentNumber)
	assert.Equal(t, identity.Codename(3), realPlan.Fresh[0].DisplayName)
	assert.Equal(t, "gpt-4o-mini", realPlan.Fresh[0].ModelType)
	assert.Equal(t, "standard", realPlan.Fresh[0].Tier)
	assert.Equal(t, map[string]int{"energy": 5, "food": 10, "materials": 5},
		realPlan.Fresh[0].Inventory)
	assert.Empty(t, realPlan.CarriedLawIDs)

	// The fresh agents exist with their starter holdings.
	a3, err := st.GetAgent(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusActive, a3.Status)
	assert.Equal(t, identity.Codename(3), a3.DisplayName)
	inv, err := st.GetInventory(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, models.Inventory{
		models.ResourceEnergy:    5,
		models.ResourceFood:      10,
		models.ResourceMaterials: 5,
	}, inv)

	// Lineage: one carryover pointing at itself, two fresh with no parent.
	rows, err := st.ListLineageBySeason(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 1, rows[0].ChildAgentNumber)
	assert.Equal(t, models.LineageCarryover, rows[0].Origin)
	require.NotNil(t, rows[0].ParentAgentNumber)
	assert.Equal(t, 1, *rows[0].ParentAgentNumber)
	assert.Equal(t, 3, rows[1].ChildAgentNumber)
	assert.Equal(t, models.LineageFresh, rows[1].Origin)
	assert.Nil(t, rows[1].ParentAgentNumber)
	assert.Equal(t, 4, rows[2].ChildAgentNumber)

	events := listEvents(t, st)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSeasonSeeded, events[0].EventType)
	assert.Equal(t, "s2", events[0].Metadata["season_id"])
	assert.EqualValues(t, 1, events[0].Metadata["carryover_count"])
	assert.EqualValues(t, 2, events[0].Metadata["fresh_count"])
}

func TestSeedNextSeasonResetsCarryoverState(t *testing.T) {
	svc, st, clock, _ := newTestService(t, nil)
	ctx := context.Background()

	run := seedRun(t, st, strPtr("s1"), clock.Now().Add(-72*time.Hour), nil)
	seedAgent(t, st, 1, models.Inventory{models.ResourceFood: 3})
	require.NoError(t, st.UpdateAgentStatus(ctx, 1, models.AgentStatusDormant, nil))
	_, err := st.IncrementStarvation(ctx, 1)
	require.NoError(t, err)
	_, err = st.IncrementStarvation(ctx, 1)
	require.NoError(t, err)
	until := clock.Now().Add(24 * time.Hour)
	require.NoError(t, st.SetAgentSanction(ctx, 1, &until))
	require.NoError(t, st.UpsertAgentMemory(ctx, 1, "remembers the drought", 4))

	_, err = svc.SeedNextSeason(ctx, SeedRequest{
		SeasonID:         "s2",
		ParentRunID:      run.RunID,
		PolicyVersion:    TransferPolicyCarryoverV1,
		TargetAgentCount: 1,
		Confirm:          true,
	})
	require.NoError(t, err)

	a, err := st.GetAgent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusActive, a.Status, "carryovers wake into the new season")
	assert.Zero(t, a.StarvationCycles)
	assert.Nil(t, a.SanctionedUntil)

	_, err = st.GetAgentMemory(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound, "memories do not cross the boundary")

	inv, err := st.GetInventory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, inv[models.ResourceFood], "holdings do cross the boundary")
}

func TestSeedNextSeasonRequiresConfirm(t *testing.T) {
	svc, st, clock, _ := newTestService(t, nil)
	ctx := context.Background()

	run := seedRun(t, st, nil, clock.Now().Add(-72*time.Hour), nil)
	seedAgent(t, st, 1, nil)

	_, err := svc.SeedNextSeason(ctx, SeedRequest{
		SeasonID:         "s2",
		ParentRunID:      run.RunID,
		PolicyVersion:    TransferPolicyCarryoverV1,
		TargetAgentCount: 1,
	})
	assert.ErrorIs(t, err, ErrConfirmRequired)

	rows, err := st.ListLineageBySeason(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSeedNextSeasonRejectsUnknownPolicy(t *testing.T) {
	svc, _, _, _ := newTestService(t, nil)

	_, err := svc.SeedNextSeason(context.Background(), SeedRequest{
		SeasonID:      "s2",
		ParentRunID:   uuid.NewString(),
		PolicyVersion: "carryover_v2",
		Confirm:       true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown transfer policy version "carryover_v2"`)
}

func TestSeedNextSeasonUnknownParentRun(t *testing.T) {
	svc, _, _, _ := newTestService(t, nil)

	_, err := svc.SeedNextSeason(context.Background(), SeedRequest{
		SeasonID:      "s2",
		ParentRunID:   uuid.NewString(),
		PolicyVersion: TransferPolicyCarryoverV1,
		Confirm:       true,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSeedNextSeasonRefusesWhileActive(t *testing.T) {
	svc, st, clock, runtime := newTestService(t, nil)
	ctx := context.Background()

	run := seedRun(t, st, nil, clock.Now().Add(-72*time.Hour), nil)
	seedAgent(t, st, 1, nil)
	require.NoError(t, runtime.UpdateSettings(ctx,
		map[string]string{runtimeconfig.KeySimulationActive: "true"}, "test", "mid-run"))

	_, err := svc.SeedNextSeason(ctx, SeedRequest{
		SeasonID:         "s2",
		ParentRunID:      run.RunID,
		PolicyVersion:    TransferPolicyCarryoverV1,
		TargetAgentCount: 1,
		Confirm:          true,
	})
	assert.ErrorIs(t, err, ErrSimulationActive)
}

func TestSeedNextSeasonDuplicateSeasonRollsBack(t *testing.T) {
	svc, st, clock, _ := newTestService(t, nil)
	ctx := context.Background()

	run := seedRun(t, st, nil, clock.Now().Add(-72*time.Hour), nil)
	seedAgent(t, st, 1, nil)

	req := SeedRequest{
		SeasonID:         "s2",
		ParentRunID:      run.RunID,
		PolicyVersion:    TransferPolicyCarryoverV1,
		TargetAgentCount: 3,
		Confirm:          true,
	}
	_, err := svc.SeedNextSeason(ctx, req)
	require.NoError(t, err)

	_, err = svc.SeedNextSeason(ctx, req)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	rows, err := st.ListLineageBySeason(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, rows, 3, "failed reseed leaves the first seed untouched")
	events := listEvents(t, st)
	count := 0
	for _, e := range events {
		if e.EventType == models.EventSeasonSeeded {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSeedNextSeasonTruncatesSurvivorsToTarget(t *testing.T) {
	svc, st, clock, _ := newTestService(t, nil)
	ctx := context.Background()

	run := seedRun(t, st, nil, clock.Now().Add(-72*time.Hour), nil)
	for n := 1; n <= 3; n++ {
		seedAgent(t, st, n, nil)
	}

	plan, err := svc.SeedNextSeason(ctx, SeedRequest{
		SeasonID:         "s2",
		ParentRunID:      run.RunID,
		PolicyVersion:    TransferPolicyCarryoverV1,
		TargetAgentCount: 2,
		Confirm:          true,
	})
	require.NoError(t, err)

	require.Len(t, plan.Carryover, 2, "lowest agent numbers carry first")
	assert.Equal(t, 1, plan.Carryover[0].AgentNumber)
	assert.Equal(t, 2, plan.Carryover[1].AgentNumber)
	assert.Empty(t, plan.Fresh)

	rows, err := st.ListLineageBySeason(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSeedNextSeasonDefaultsTargetToPopulationSize(t *testing.T) {
	svc, st, clock, _ := newTestService(t, func(cfg *config.Config) {
		cfg.Simulation.PopulationSize = 2
	})
	ctx := context.Background()

	run := seedRun(t, st, nil, clock.Now().Add(-72*time.Hour), nil)
	seedAgent(t, st, 1, nil)

	plan, err := svc.SeedNextSeason(ctx, SeedRequest{
		SeasonID:      "s2",
		ParentRunID:   run.RunID,
		PolicyVersion: TransferPolicyCarryoverV1,
		DryRun:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, plan.TargetAgentCount)
	assert.Len(t, plan.Carryover, 1)
	assert.Len(t, plan.Fresh, 1)
}

func TestSeedNextSeasonCarriesActiveLaws(t *testing.T) {
	svc, st, clock, _ := newTestService(t, nil)
	ctx := context.Background()

	run := seedRun(t, st, strPtr("s1"), clock.Now().Add(-72*time.Hour), nil)
	seedAgent(t, st, 1, nil)
	law := seedLaw(t, st, 1, "Food tithe")

	plan, err := svc.SeedNextSeason(ctx, SeedRequest{
		SeasonID:         "s2",
		ParentRunID:      run.RunID,
		PolicyVersion:    TransferPolicyCarryoverV1,
		TargetAgentCount: 1,
		CarryPassedLaws:  true,
		Confirm:          true,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{law.ID}, plan.CarriedLawIDs)

	got, err := st.GetLaw(ctx, law.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	require.NotNil(t, got.CarriedFromSeasonID)
	assert.Equal(t, "s1", *got.CarriedFromSeasonID)
}

func TestSeedNextSeasonRetiresLawsWhenNotCarried(t *testing.T) {
	svc, st, clock, _ := newTestService(t, nil)
	ctx := context.Background()

	run := seedRun(t, st, strPtr("s1"), clock.Now().Add(-72*time.Hour), nil)
	seedAgent(t, st, 1, nil)
	law := seedLaw(t, st, 1, "Curfew")

	plan, err := svc.SeedNextSeason(ctx, SeedRequest{
		SeasonID:         "s2",
		ParentRunID:      run.RunID,
		PolicyVersion:    TransferPolicyCarryoverV1,
		TargetAgentCount: 1,
		Confirm:          true,
	})
	require.NoError(t, err)
	assert.Empty(t, plan.CarriedLawIDs)

	laws, err := st.ListActiveLaws(ctx)
	require.NoError(t, err)
	assert.Empty(t, laws)

	got, err := st.GetLaw(ctx, law.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.NotNil(t, got.RepealedAt)
	assert.Nil(t, got.RepealedByProposal, "retirement is not a repeal by motion")
}

func TestSeedInitialPopulation(t *testing.T) {
	svc, st, _, _ := newTestService(t, func(cfg *config.Config) {
		cfg.Simulation.PopulationSize = 3
	})
	ctx := context.Background()

	n, err := svc.SeedInitialPopulation(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for i := 1; i <= 3; i++ {
		a, err := st.GetAgent(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, identity.Codename(i), a.DisplayName)
		assert.Equal(t, models.AgentStatusActive, a.Status)
		assert.NotEmpty(t, a.SystemPrompt)
		inv, err := st.GetInventory(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, 10, inv[models.ResourceFood])
	}

	rows, err := st.ListLineageBySeason(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, l := range rows {
		assert.Equal(t, models.LineageFresh, l.Origin)
		assert.Nil(t, l.ParentAgentNumber)
	}

	// A populated database is left alone.
	n, err = svc.SeedInitialPopulation(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, listEvents(t, st), 1)
}
