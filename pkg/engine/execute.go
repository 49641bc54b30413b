package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/store"
)

// Execute applies a validated action inside a single transaction. On success
// the returned Result carries a description and structured data for the
// action_executed event. Domain failures (insufficient resources, duplicate
// votes, rows changed since validation) roll the transaction back whole and
// come back as Success=false with the reason; the attempt is still recorded
// so it counts against the hourly budget. A non-nil error is infrastructure
// trouble and leaves no attempt row.
func (e *Engine) Execute(ctx context.Context, agent *models.Agent, act *Action) (*Result, error) {
	now := e.clock.Now()

	var res *Result
	err := e.store.WithTx(ctx, func(tx *store.Store) error {
		r, err := e.apply(ctx, tx, agent, act, now)
		if err != nil {
			return err
		}
		if err := tx.RecordAction(ctx, &models.AgentAction{
			AgentNumber: agent.AgentNumber,
			ActionType:  act.Label(),
			Success:     true,
			Detail:      r.Description,
		}); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err == nil {
		res.Success = true
		return res, nil
	}
	if !domainFailure(err) {
		return nil, err
	}

	reason := err.Error()
	if recErr := e.store.RecordAction(ctx, &models.AgentAction{
		AgentNumber: agent.AgentNumber,
		ActionType:  act.Label(),
		Success:     false,
		Detail:      reason,
	}); recErr != nil {
		e.log.Warn("Failed to record rejected action",
			"agent_number", agent.AgentNumber, "error", recErr)
	}
	e.log.Info("Action rolled back",
		"agent_number", agent.AgentNumber, "action", act.Label(), "reason", reason)
	return &Result{Success: false, Description: reason}, nil
}

// domainFailure reports whether the rollback was caused by agent-visible
// state rather than infrastructure: these become invalid_action events.
func domainFailure(err error) bool {
	return errors.Is(err, store.ErrInsufficient) ||
		errors.Is(err, store.ErrDuplicate) ||
		errors.Is(err, store.ErrNotFound) ||
		store.IsIntegrityViolation(err)
}

func (e *Engine) apply(ctx context.Context, tx *store.Store, agent *models.Agent, act *Action, now time.Time) (*Result, error) {
	switch act.Type {
	case ActionIdle:
		return &Result{Description: "idled this turn"}, nil
	case ActionWork:
		return e.applyWork(ctx, tx, agent, act, now)
	case ActionTrade:
		return e.applyTrade(ctx, tx, agent, act)
	case ActionConsume:
		return e.applyConsume(ctx, tx, agent, act)
	case ActionProduce:
		return e.applyProduce(ctx, tx, agent)
	case ActionPropose:
		return e.applyPropose(ctx, tx, agent, act, now)
	case ActionVote:
		return e.applyVote(ctx, tx, agent, act)
	case ActionMessage:
		return e.applyMessage(ctx, tx, agent, act)
	case ActionEnforceInitiate:
		return e.applyEnforceInitiate(ctx, tx, agent, act, now)
	case ActionEnforceVote:
		return e.applyEnforceVote(ctx, tx, agent, act)
	case ActionSetName:
		// Aliases are fixed at seeding for attribution integrity. The
		// request is accepted and recorded but changes nothing.
		return &Result{
			Description: fmt.Sprintf("display name is immutable for the run, keeping %q", agent.DisplayName),
			Data:        map[string]any{"display_name": agent.DisplayName},
		}, nil
	}
	return nil, fmt.Errorf("unknown action type %q", act.Type)
}

func (e *Engine) applyWork(ctx context.Context, tx *store.Store, agent *models.Agent, act *Action, now time.Time) (*Result, error) {
	rt := jobResource(act.Job)
	cycles, err := tx.CountWorkCyclesToday(ctx, agent.AgentNumber, act.Job, identity.StartOfDay(now))
	if err != nil {
		return nil, err
	}
	yield := workYield(e.sim.WorkBaseRates[act.Job], e.sim.WorkDiminishPercent, cycles)

	// Work draws from the shared pool; an exhausted pool rejects the
	// action rather than minting resources.
	if err := tx.AdjustGlobalResource(ctx, rt, -yield); err != nil {
		return nil, err
	}
	if _, err := tx.AdjustInventory(ctx, agent.AgentNumber, rt, yield); err != nil {
		return nil, err
	}
	me := agent.AgentNumber
	if err := tx.RecordTransaction(ctx, &models.Transaction{
		TransactionType: models.TransactionWork,
		ToAgentNumber:   &me,
		ResourceType:    rt,
		Quantity:        yield,
		Metadata:        map[string]any{"job": act.Job, "cycles_today": cycles},
	}); err != nil {
		return nil, err
	}
	return &Result{
		Description: fmt.Sprintf("worked %s and gained %d %s", act.Job, yield, rt),
		Data: map[string]any{
			"job": act.Job, "resource": string(rt), "yield": yield, "cycles_today": cycles,
		},
	}, nil
}

// invAdjust is one pending inventory delta. Trades apply theirs in canonical
// (agent_number, resource_type) order so concurrent trades cannot deadlock.
type invAdjust struct {
	agentNumber int
	rt          models.ResourceType
	delta       int
}

func (e *Engine) applyTrade(ctx context.Context, tx *store.Store, agent *models.Agent, act *Action) (*Result, error) {
	me, target := agent.AgentNumber, *act.TargetAgentNumber
	adjs := []invAdjust{
		{me, act.Give.Resource, -act.Give.Qty},
		{me, act.Receive.Resource, act.Receive.Qty},
		{target, act.Give.Resource, act.Give.Qty},
		{target, act.Receive.Resource, -act.Receive.Qty},
	}
	sort.SliceStable(adjs, func(i, j int) bool {
		if adjs[i].agentNumber != adjs[j].agentNumber {
			return adjs[i].agentNumber < adjs[j].agentNumber
		}
		return adjs[i].rt < adjs[j].rt
	})
	for _, a := range adjs {
		if _, err := tx.AdjustInventory(ctx, a.agentNumber, a.rt, a.delta); err != nil {
			return nil, err
		}
	}

	legs := []*models.Transaction{
		{
			TransactionType: models.TransactionTrade,
			FromAgentNumber: &me, ToAgentNumber: &target,
			ResourceType: act.Give.Resource, Quantity: act.Give.Qty,
			Metadata: map[string]any{"leg": "give"},
		},
		{
			TransactionType: models.TransactionTrade,
			FromAgentNumber: &target, ToAgentNumber: &me,
			ResourceType: act.Receive.Resource, Quantity: act.Receive.Qty,
			Metadata: map[string]any{"leg": "receive"},
		},
	}
	for _, t := range legs {
		if err := tx.RecordTransaction(ctx, t); err != nil {
			return nil, err
		}
	}
	return &Result{
		Description: fmt.Sprintf("traded %d %s to agent %d for %d %s",
			act.Give.Qty, act.Give.Resource, target, act.Receive.Qty, act.Receive.Resource),
		Data: map[string]any{
			"target_agent_number": target,
			"gave":                map[string]any{"resource": string(act.Give.Resource), "qty": act.Give.Qty},
			"received":            map[string]any{"resource": string(act.Receive.Resource), "qty": act.Receive.Qty},
		},
	}, nil
}

func (e *Engine) applyConsume(ctx context.Context, tx *store.Store, agent *models.Agent, act *Action) (*Result, error) {
	rt := models.ResourceType(act.Resource)
	if _, err := tx.AdjustInventory(ctx, agent.AgentNumber, rt, -act.Quantity); err != nil {
		return nil, err
	}
	if rt == models.ResourceFood {
		if err := tx.ResetStarvation(ctx, agent.AgentNumber); err != nil {
			return nil, err
		}
	}
	me := agent.AgentNumber
	if err := tx.RecordTransaction(ctx, &models.Transaction{
		TransactionType: models.TransactionConsume,
		FromAgentNumber: &me,
		ResourceType:    rt,
		Quantity:        act.Quantity,
	}); err != nil {
		return nil, err
	}
	return &Result{
		Description: fmt.Sprintf("consumed %d %s", act.Quantity, rt),
		Data:        map[string]any{"resource": string(rt), "quantity": act.Quantity},
	}, nil
}

func (e *Engine) applyProduce(ctx context.Context, tx *store.Store, agent *models.Agent) (*Result, error) {
	me := agent.AgentNumber
	// Canonical resource order within the same agent keeps the lock
	// discipline shared with trades.
	if _, err := tx.AdjustInventory(ctx, me, models.ResourceEnergy, -e.sim.ProduceEnergyCost); err != nil {
		return nil, err
	}
	if _, err := tx.AdjustInventory(ctx, me, models.ResourceFood, e.sim.ProduceFoodYield); err != nil {
		return nil, err
	}
	if _, err := tx.AdjustInventory(ctx, me, models.ResourceMaterials, -e.sim.ProduceMaterialsCost); err != nil {
		return nil, err
	}
	if err := tx.RecordTransaction(ctx, &models.Transaction{
		TransactionType: models.TransactionProduce,
		ToAgentNumber:   &me,
		ResourceType:    models.ResourceFood,
		Quantity:        e.sim.ProduceFoodYield,
		Metadata: map[string]any{
			"materials_spent": e.sim.ProduceMaterialsCost,
			"energy_spent":    e.sim.ProduceEnergyCost,
		},
	}); err != nil {
		return nil, err
	}
	return &Result{
		Description: fmt.Sprintf("produced %d food from %d materials and %d energy",
			e.sim.ProduceFoodYield, e.sim.ProduceMaterialsCost, e.sim.ProduceEnergyCost),
		Data: map[string]any{
			"food_yield":      e.sim.ProduceFoodYield,
			"materials_spent": e.sim.ProduceMaterialsCost,
			"energy_spent":    e.sim.ProduceEnergyCost,
		},
	}, nil
}

func (e *Engine) applyPropose(ctx context.Context, tx *store.Store, agent *models.Agent, act *Action, now time.Time) (*Result, error) {
	closes := now.Add(time.Duration(e.sim.ProposalVotingHours) * time.Hour)
	p := &models.Proposal{
		AuthorAgentNumber: agent.AgentNumber,
		ProposalType:      models.ProposalType(act.ProposalType),
		Title:             act.Title,
		Description:       act.Description,
		TargetLawID:       act.TargetLawID,
		VotingClosesAt:    closes,
	}
	if err := tx.CreateProposal(ctx, p); err != nil {
		return nil, err
	}
	return &Result{
		Description: fmt.Sprintf("proposed %s %q, voting closes at %s",
			p.ProposalType, p.Title, closes.UTC().Format(time.RFC3339)),
		Data: map[string]any{
			"proposal_id":      p.ID,
			"proposal_type":    string(p.ProposalType),
			"title":            p.Title,
			"voting_closes_at": closes.UTC().Format(time.RFC3339),
		},
	}, nil
}

func (e *Engine) applyVote(ctx context.Context, tx *store.Store, agent *models.Agent, act *Action) (*Result, error) {
	if err := tx.CastVote(ctx, &models.Vote{
		ProposalID:  act.ProposalID,
		AgentNumber: agent.AgentNumber,
		Choice:      models.VoteChoice(act.Vote),
	}); err != nil {
		return nil, err
	}
	return &Result{
		Description: fmt.Sprintf("voted %s on proposal %d", act.Vote, act.ProposalID),
		Data:        map[string]any{"proposal_id": act.ProposalID, "vote": act.Vote},
	}, nil
}

func (e *Engine) applyMessage(ctx context.Context, tx *store.Store, agent *models.Agent, act *Action) (*Result, error) {
	m := &models.Message{
		SenderAgentNumber: agent.AgentNumber,
		TargetAgentNumber: act.TargetAgentNumber,
		Body:              act.Body,
	}
	if err := tx.CreateMessage(ctx, m); err != nil {
		return nil, err
	}
	desc := "broadcast a message to the population"
	if act.TargetAgentNumber != nil {
		desc = fmt.Sprintf("sent a message to agent %d", *act.TargetAgentNumber)
	}
	return &Result{
		Description: desc,
		Data:        map[string]any{"message_id": m.ID, "broadcast": m.Broadcast()},
	}, nil
}

func (e *Engine) applyEnforceInitiate(ctx context.Context, tx *store.Store, agent *models.Agent, act *Action, now time.Time) (*Result, error) {
	active, err := tx.ListAgentsByStatus(ctx, models.AgentStatusActive)
	if err != nil {
		return nil, err
	}
	enf := &models.Enforcement{
		InitiatorAgentNumber: agent.AgentNumber,
		TargetAgentNumber:    *act.TargetAgentNumber,
		LawID:                act.LawID,
		EnforcementType:      models.EnforcementType(act.EnforcementType),
		ViolationDescription: act.ViolationDescription,
		VotesRequired:        quorumVotes(len(active), e.sim.EnforcementQuorumPercent),
		VotingClosesAt:       now.Add(time.Duration(e.sim.EnforcementVotingHours) * time.Hour),
	}
	switch enf.EnforcementType {
	case models.EnforcementSanction:
		hours := defaultSanctionHours
		if act.SanctionDurationHours != nil && *act.SanctionDurationHours > 0 {
			hours = *act.SanctionDurationHours
		}
		enf.SanctionDurationHours = &hours
	case models.EnforcementSeizure:
		rt := models.ResourceType(act.SeizureResource)
		enf.SeizureResource = &rt
		enf.SeizureQuantity = act.SeizureQuantity
	}
	if err := tx.CreateEnforcement(ctx, enf); err != nil {
		return nil, err
	}
	return &Result{
		Description: fmt.Sprintf("initiated %s enforcement against agent %d under law %d",
			enf.EnforcementType, enf.TargetAgentNumber, enf.LawID),
		Data: map[string]any{
			"enforcement_id":      enf.ID,
			"enforcement_type":    string(enf.EnforcementType),
			"target_agent_number": enf.TargetAgentNumber,
			"law_id":              enf.LawID,
			"votes_required":      enf.VotesRequired,
			"voting_closes_at":    enf.VotingClosesAt.UTC().Format(time.RFC3339),
		},
	}, nil
}

func (e *Engine) applyEnforceVote(ctx context.Context, tx *store.Store, agent *models.Agent, act *Action) (*Result, error) {
	if err := tx.CastEnforcementVote(ctx, &models.EnforcementVote{
		EnforcementID: act.EnforcementID,
		AgentNumber:   agent.AgentNumber,
		Choice:        models.EnforcementVoteChoice(act.Vote),
	}); err != nil {
		return nil, err
	}
	return &Result{
		Description: fmt.Sprintf("voted %s on enforcement %d", act.Vote, act.EnforcementID),
		Data:        map[string]any{"enforcement_id": act.EnforcementID, "vote": act.Vote},
	}, nil
}

// quorumVotes converts the quorum percentage of the active population into
// a whole vote count, rounding up, never below one.
func quorumVotes(activeCount, percent int) int {
	v := (activeCount*percent + 99) / 100
	if v < 1 {
		v = 1
	}
	return v
}
