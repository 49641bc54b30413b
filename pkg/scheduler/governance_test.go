package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/store"
)

func seedProposal(t *testing.T, st *store.Store, author int, ptype models.ProposalType, title string, target *int64, closesAt time.Time) *models.Proposal {
	t.Helper()
	p := &models.Proposal{
		AuthorAgentNumber: author,
		ProposalType:      ptype,
		Title:             title,
		Description:       "seeded for tests",
		TargetLawID:       target,
		VotingClosesAt:    closesAt,
	}
	require.NoError(t, st.CreateProposal(context.Background(), p))
	return p
}

// seedLaw plants an already-passed proposal and its law so enforcement and
// repeal fixtures have something to point at.
func seedLaw(t *testing.T, st *store.Store, author int, title string) *models.Law {
	t.Helper()
	ctx := context.Background()
	p := seedProposal(t, st, author, models.ProposalTypeLaw, title, nil,
		time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC))
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

func castVotes(t *testing.T, st *store.Store, proposalID int64, yes, no []int) {
	t.Helper()
	ctx := context.Background()
	for _, n := range yes {
		require.NoError(t, st.CastVote(ctx, &models.Vote{ProposalID: proposalID, AgentNumber: n, Choice: models.VoteYes}))
	}
	for _, n := range no {
		require.NoError(t, st.CastVote(ctx, &models.Vote{ProposalID: proposalID, AgentNumber: n, Choice: models.VoteNo}))
	}
}

func castEnforcementVotes(t *testing.T, st *store.Store, enforcementID int64, support, oppose []int) {
	t.Helper()
	ctx := context.Background()
	for _, n := range support {
		require.NoError(t, st.CastEnforcementVote(ctx, &models.EnforcementVote{EnforcementID: enforcementID, AgentNumber: n, Choice: models.EnforcementVoteSupport}))
	}
	for _, n := range oppose {
		require.NoError(t, st.CastEnforcementVote(ctx, &models.EnforcementVote{EnforcementID: enforcementID, AgentNumber: n, Choice: models.EnforcementVoteOppose}))
	}
}

func TestResolveProposalPassesAndEnactsLaw(t *testing.T) {
	svc, st, clock, _ := newTestScheduler(t, nil)
	ctx := context.Background()
	for n := 1; n <= 3; n++ {
		seedAgent(t, st, n, nil)
	}
	p := seedProposal(t, st, 1, models.ProposalTypeLaw, "Food tithe", nil, clock.Now().Add(-time.Hour))
	castVotes(t, st, p.ID, []int{2, 3}, []int{1})

	require.NoError(t, svc.resolveProposals(ctx, clock.Now()))

	got, err := st.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusPassed, got.Status)
	assert.NotNil(t, got.ResolvedAt)

	laws, err := st.ListActiveLaws(ctx)
	require.NoError(t, err)
	require.Len(t, laws, 1)
	assert.Equal(t, "Food tithe", laws[0].Title)
	assert.Equal(t, 1, laws[0].AuthorAgentNumber)
	assert.Equal(t, p.ID, laws[0].ProposalID)

	events := listEvents(t, st)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventProposalResolved, events[0].EventType)
	assert.Equal(t, models.EventLawPassed, events[1].EventType)
	assert.EqualValues(t, 2, events[0].Metadata["yes_count"])

	// A second pass finds nothing due.
	require.NoError(t, svc.resolveProposals(ctx, clock.Now()))
	assert.Len(t, listEvents(t, st), 2)
	laws, err = st.ListActiveLaws(ctx)
	require.NoError(t, err)
	assert.Len(t, laws, 1)
}

func TestResolveProposalTieFails(t *testing.T) {
	svc, st, clock, _ := newTestScheduler(t, nil)
	ctx := context.Background()
	for n := 1; n <= 3; n++ {
		seedAgent(t, st, n, nil)
	}
	p := seedProposal(t, st, 1, models.ProposalTypeLaw, "Mandatory curfew", nil, clock.Now().Add(-time.Minute))
	castVotes(t, st, p.ID, []int{2}, []int{3})

	require.NoError(t, svc.resolveProposals(ctx, clock.Now()))

	got, err := st.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusFailed, got.Status)

	laws, err := st.ListActiveLaws(ctx)
	require.NoError(t, err)
	assert.Empty(t, laws)

	events := listEvents(t, st)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventProposalResolved, events[0].EventType)
	assert.Equal(t, "failed", events[0].Metadata["status"])
}

func TestResolveRepealDeactivatesLaw(t *testing.T) {
	svc, st, clock, _ := newTestScheduler(t, nil)
	ctx := context.Background()
	for n := 1; n <= 3; n++ {
		seedAgent(t, st, n, nil)
	}
	law := seedLaw(t, st, 1, "Curfew")
	p := seedProposal(t, st, 2, models.ProposalTypeRepeal, "Repeal the curfew", &law.ID, clock.Now().Add(-time.Minute))
	castVotes(t, st, p.ID, []int{2, 3}, nil)

	require.NoError(t, svc.resolveProposals(ctx, clock.Now()))

	got, err := st.GetLaw(ctx, law.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.NotNil(t, got.RepealedAt)
	require.NotNil(t, got.RepealedByProposal)
	assert.Equal(t, p.ID, *got.RepealedByProposal)

	events := listEvents(t, st)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventLawRepealed, events[1].EventType)
	assert.Contains(t, events[1].Description, "Curfew")

	active, err := st.ListActiveLaws(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestResolveEnforcementExecutesSanction(t *testing.T) {
	svc, st, clock, _ := newTestScheduler(t, nil)
	ctx := context.Background()
	for n := 1; n <= 4; n++ {
		seedAgent(t, st, n, nil)
	}
	law := seedLaw(t, st, 1, "No hoarding")
	hours := 48
	e := &models.Enforcement{
		InitiatorAgentNumber:  1,
		TargetAgentNumber:     2,
		LawID:                 law.ID,
		EnforcementType:       models.EnforcementSanction,
		ViolationDescription:  "hoarded the grain stores",
		VotesRequired:         2,
		VotingClosesAt:        clock.Now().Add(-time.Minute),
		SanctionDurationHours: &hours,
	}
	require.NoError(t, st.CreateEnforcement(ctx, e))
	castEnforcementVotes(t, st, e.ID, []int{3, 4}, []int{1})

	require.NoError(t, svc.resolveEnforcements(ctx, clock.Now()))

	got, err := st.GetEnforcement(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnforcementStatusExecuted, got.Status)
	assert.NotNil(t, got.ResolvedAt)
	assert.NotNil(t, got.ExecutedAt)

	target, err := st.GetAgent(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, target.SanctionedUntil)
	assert.WithinDuration(t, clock.Now().Add(48*time.Hour), *target.SanctionedUntil, time.Second)

	events := listEvents(t, st)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventEnforcementResolved, events[0].EventType)
	assert.Equal(t, models.EventEnforcementExecuted, events[1].EventType)
	assert.Equal(t, 2, *events[1].AgentNumber)

	// Executed motions are terminal.
	require.NoError(t, svc.resolveEnforcements(ctx, clock.Now()))
	assert.Len(t, listEvents(t, st), 2)
}

func TestResolveEnforcementRejectsBelowQuorum(t *testing.T) {
	svc, st, clock, _ := newTestScheduler(t, nil)
	ctx := context.Background()
	for n := 1; n <= 3; n++ {
		seedAgent(t, st, n, nil)
	}
	law := seedLaw(t, st, 1, "No hoarding")
	e := &models.Enforcement{
		InitiatorAgentNumber: 1,
		TargetAgentNumber:    2,
		LawID:                law.ID,
		EnforcementType:      models.EnforcementExile,
		ViolationDescription: "hoarded the grain stores",
		VotesRequired:        3,
		VotingClosesAt:       clock.Now().Add(-time.Minute),
	}
	require.NoError(t, st.CreateEnforcement(ctx, e))
	castEnforcementVotes(t, st, e.ID, []int{3}, nil)

	require.NoError(t, svc.resolveEnforcements(ctx, clock.Now()))

	got, err := st.GetEnforcement(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnforcementStatusRejected, got.Status)
	assert.NotNil(t, got.ResolvedAt)
	assert.Nil(t, got.ExecutedAt)

	target, err := st.GetAgent(ctx, 2)
	require.NoError(t, err)
	assert.False(t, target.Exiled)

	events := listEvents(t, st)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventEnforcementResolved, events[0].EventType)
	assert.Equal(t, "rejected", events[0].Metadata["status"])
}

func TestResolveEnforcementRejectsWhenOpposed(t *testing.T) {
	svc, st, clock, _ := newTestScheduler(t, nil)
	ctx := context.Background()
	for n := 1; n <= 5; n++ {
		seedAgent(t, st, n, nil)
	}
	law := seedLaw(t, st, 1, "No hoarding")
	e := &models.Enforcement{
		InitiatorAgentNumber: 1,
		TargetAgentNumber:    2,
		LawID:                law.ID,
		EnforcementType:      models.EnforcementExile,
		ViolationDescription: "hoarded the grain stores",
		VotesRequired:        2,
		VotingClosesAt:       clock.Now().Add(-time.Minute),
	}
	require.NoError(t, st.CreateEnforcement(ctx, e))
	castEnforcementVotes(t, st, e.ID, []int{3, 4}, []int{1, 5})

	require.NoError(t, svc.resolveEnforcements(ctx, clock.Now()))

	got, err := st.GetEnforcement(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnforcementStatusRejected, got.Status,
		"meeting quorum is not enough when support does not outnumber opposition")
}

func TestResolveEnforcementSeizureClampsToHoldings(t *testing.T) {
	svc, st, clock, _ := newTestScheduler(t, nil)
	ctx := context.Background()
	seedAgent(t, st, 1, nil)
	seedAgent(t, st, 2, models.Inventory{models.ResourceMaterials: 3})
	seedAgent(t, st, 3, nil)
	law := seedLaw(t, st, 1, "Common stores")
	rt := models.ResourceMaterials
	qty := 5
	e := &models.Enforcement{
		InitiatorAgentNumber: 1,
		TargetAgentNumber:    2,
		LawID:                law.ID,
		EnforcementType:      models.EnforcementSeizure,
		ViolationDescription: "withheld materials owed to the commons",
		VotesRequired:        1,
		VotingClosesAt:       clock.Now().Add(-time.Minute),
		SeizureResource:      &rt,
		SeizureQuantity:      &qty,
	}
	require.NoError(t, st.CreateEnforcement(ctx, e))
	castEnforcementVotes(t, st, e.ID, []int{3}, nil)

	before, err := st.GetGlobalResources(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.resolveEnforcements(ctx, clock.Now()))

	inv, err := st.GetInventory(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, inv[models.ResourceMaterials])

	after, err := st.GetGlobalResources(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Materials+3, after.Materials)

	n, err := st.CountTransactionsSince(ctx, models.TransactionSeizure,
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := listEvents(t, st)
	require.Len(t, events, 2)
	exec := events[1]
	assert.Equal(t, models.EventEnforcementExecuted, exec.EventType)
	assert.Contains(t, exec.Description, "seized 3 of 5 materials")
	assert.EqualValues(t, 5, exec.Metadata["quantity_sought"])
	assert.EqualValues(t, 3, exec.Metadata["quantity_seized"])
}

func TestResolveEnforcementExile(t *testing.T) {
	svc, st, clock, _ := newTestScheduler(t, nil)
	ctx := context.Background()
	for n := 1; n <= 3; n++ {
		seedAgent(t, st, n, nil)
	}
	law := seedLaw(t, st, 1, "Banishment for theft")
	e := &models.Enforcement{
		InitiatorAgentNumber: 1,
		TargetAgentNumber:    2,
		LawID:                law.ID,
		EnforcementType:      models.EnforcementExile,
		ViolationDescription: "stole from the common pool",
		VotesRequired:        1,
		VotingClosesAt:       clock.Now().Add(-time.Minute),
	}
	require.NoError(t, st.CreateEnforcement(ctx, e))
	castEnforcementVotes(t, st, e.ID, []int{3}, nil)

	require.NoError(t, svc.resolveEnforcements(ctx, clock.Now()))

	target, err := st.GetAgent(ctx, 2)
	require.NoError(t, err)
	assert.True(t, target.Exiled)

	got, err := st.GetEnforcement(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnforcementStatusExecuted, got.Status)
}
