package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/store"
)

// Validate checks whether the agent may execute the action right now. The
// verdict distinguishes agent-level gates (status, exile, sanction, hourly
// budget) from per-type schema and state checks. A non-nil error means the
// check itself could not run (database failure) and says nothing about the
// action; callers should retry the turn rather than penalize the agent.
func (e *Engine) Validate(ctx context.Context, agent *models.Agent, act *Action) (ValidationResult, error) {
	now := e.clock.Now()

	if agent.Status != models.AgentStatusActive {
		return invalid("agent %d is %s and cannot act", agent.AgentNumber, agent.Status), nil
	}
	if agent.Exiled {
		return invalid("agent %d is exiled and cannot act", agent.AgentNumber), nil
	}
	if agent.Sanctioned(now) {
		return invalid("agent %d is sanctioned until %s",
			agent.AgentNumber, agent.SanctionedUntil.UTC().Format(time.RFC3339)), nil
	}

	used, err := e.store.CountActionsSince(ctx, agent.AgentNumber, identity.WindowStart(now, time.Hour))
	if err != nil {
		return ValidationResult{}, err
	}
	if used >= e.sim.MaxActionsPerHour {
		return invalid("hourly action limit reached (%d/%d), next slot at %s",
			used, e.sim.MaxActionsPerHour, identity.NextHourSlot(now).Format(time.RFC3339)), nil
	}

	switch act.Type {
	case ActionIdle:
		return accepted(), nil
	case ActionWork:
		return e.validateWork(act)
	case ActionTrade:
		return e.validateTrade(ctx, agent, act, now)
	case ActionConsume:
		return e.validateConsume(ctx, agent, act)
	case ActionProduce:
		return e.validateProduce(ctx, agent)
	case ActionPropose:
		return e.validatePropose(ctx, act)
	case ActionVote:
		return e.validateVote(ctx, agent, act, now)
	case ActionMessage:
		return e.validateMessage(ctx, agent, act)
	case ActionEnforceInitiate:
		return e.validateEnforceInitiate(ctx, agent, act)
	case ActionEnforceVote:
		return e.validateEnforceVote(ctx, agent, act, now)
	case ActionSetName:
		if act.DisplayName == "" {
			return invalid("set_name requires display_name"), nil
		}
		return accepted(), nil
	}
	return invalid("unknown action type %q", act.Type), nil
}

func (e *Engine) validateWork(act *Action) (ValidationResult, error) {
	if act.Job == "" {
		return invalid("work requires a job"), nil
	}
	if _, ok := e.sim.WorkBaseRates[act.Job]; !ok || jobResource(act.Job) == "" {
		return invalid("unknown job %q", act.Job), nil
	}
	return accepted(), nil
}

func (e *Engine) validateTrade(ctx context.Context, agent *models.Agent, act *Action, now time.Time) (ValidationResult, error) {
	if act.TargetAgentNumber == nil {
		return invalid("trade requires target_agent_number"), nil
	}
	if *act.TargetAgentNumber == agent.AgentNumber {
		return invalid("cannot trade with yourself"), nil
	}
	if act.Give == nil || act.Receive == nil {
		return invalid("trade requires give and receive legs"), nil
	}
	for _, leg := range []*TradeLeg{act.Give, act.Receive} {
		if !models.ValidResourceType(string(leg.Resource)) {
			return invalid("unknown resource %q", leg.Resource), nil
		}
		if leg.Qty < 1 {
			return invalid("trade quantities must be at least 1"), nil
		}
	}

	target, err := e.store.GetAgent(ctx, *act.TargetAgentNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalid("agent %d does not exist", *act.TargetAgentNumber), nil
		}
		return ValidationResult{}, err
	}
	if !target.CanAct(now) {
		return invalid("agent %d cannot trade right now", target.AgentNumber), nil
	}

	if res, err := e.checkHolding(ctx, agent.AgentNumber, act.Give.Resource, act.Give.Qty); err != nil || !res.Valid {
		return res, err
	}
	return e.checkHolding(ctx, target.AgentNumber, act.Receive.Resource, act.Receive.Qty)
}

func (e *Engine) validateConsume(ctx context.Context, agent *models.Agent, act *Action) (ValidationResult, error) {
	if !models.ValidResourceType(act.Resource) {
		return invalid("unknown resource %q", act.Resource), nil
	}
	if act.Quantity < 1 {
		return invalid("consume quantity must be at least 1"), nil
	}
	return e.checkHolding(ctx, agent.AgentNumber, models.ResourceType(act.Resource), act.Quantity)
}

func (e *Engine) validateProduce(ctx context.Context, agent *models.Agent) (ValidationResult, error) {
	if res, err := e.checkHolding(ctx, agent.AgentNumber, models.ResourceMaterials, e.sim.ProduceMaterialsCost); err != nil || !res.Valid {
		return res, err
	}
	return e.checkHolding(ctx, agent.AgentNumber, models.ResourceEnergy, e.sim.ProduceEnergyCost)
}

func (e *Engine) validatePropose(ctx context.Context, act *Action) (ValidationResult, error) {
	switch models.ProposalType(act.ProposalType) {
	case models.ProposalTypeLaw:
		if act.Title == "" {
			return invalid("proposal requires a title"), nil
		}
		return accepted(), nil
	case models.ProposalTypeRepeal:
		if act.TargetLawID == nil {
			return invalid("repeal proposal requires target_law_id"), nil
		}
		law, err := e.store.GetLaw(ctx, *act.TargetLawID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return invalid("law %d does not exist", *act.TargetLawID), nil
			}
			return ValidationResult{}, err
		}
		if !law.Active {
			return invalid("law %d is already repealed", law.ID), nil
		}
		if act.Title == "" {
			return invalid("proposal requires a title"), nil
		}
		return accepted(), nil
	}
	return invalid("unknown proposal_type %q", act.ProposalType), nil
}

func (e *Engine) validateVote(ctx context.Context, agent *models.Agent, act *Action, now time.Time) (ValidationResult, error) {
	if act.Vote != string(models.VoteYes) && act.Vote != string(models.VoteNo) {
		return invalid("vote must be yes or no"), nil
	}
	p, err := e.store.GetProposal(ctx, act.ProposalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalid("proposal %d does not exist", act.ProposalID), nil
		}
		return ValidationResult{}, err
	}
	if p.Status != models.ProposalStatusActive || !p.VotingClosesAt.After(now) {
		return invalid("voting on proposal %d is closed", p.ID), nil
	}
	voted, err := e.store.HasVoted(ctx, p.ID, agent.AgentNumber)
	if err != nil {
		return ValidationResult{}, err
	}
	if voted {
		return invalid("agent %d already voted on proposal %d", agent.AgentNumber, p.ID), nil
	}
	return accepted(), nil
}

func (e *Engine) validateMessage(ctx context.Context, agent *models.Agent, act *Action) (ValidationResult, error) {
	if act.Body == "" {
		return invalid("message requires a body"), nil
	}
	if act.TargetAgentNumber == nil {
		return accepted(), nil
	}
	if *act.TargetAgentNumber == agent.AgentNumber {
		return invalid("cannot message yourself"), nil
	}
	target, err := e.store.GetAgent(ctx, *act.TargetAgentNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalid("agent %d does not exist", *act.TargetAgentNumber), nil
		}
		return ValidationResult{}, err
	}
	if target.Status == models.AgentStatusDead {
		return invalid("agent %d is dead", target.AgentNumber), nil
	}
	if target.Exiled {
		return invalid("agent %d is exiled and unreachable", target.AgentNumber), nil
	}
	return accepted(), nil
}

func (e *Engine) validateEnforceInitiate(ctx context.Context, agent *models.Agent, act *Action) (ValidationResult, error) {
	et := models.EnforcementType(act.EnforcementType)
	switch et {
	case models.EnforcementSanction, models.EnforcementSeizure, models.EnforcementExile:
	default:
		return invalid("unknown enforcement_type %q", act.EnforcementType), nil
	}
	if act.TargetAgentNumber == nil {
		return invalid("enforcement requires target_agent_number"), nil
	}
	if *act.TargetAgentNumber == agent.AgentNumber {
		return invalid("cannot initiate enforcement against yourself"), nil
	}
	if act.ViolationDescription == "" {
		return invalid("enforcement requires violation_description"), nil
	}
	if et == models.EnforcementSeizure {
		if !models.ValidResourceType(act.SeizureResource) {
			return invalid("seizure requires a valid seizure_resource"), nil
		}
		if act.SeizureQuantity == nil || *act.SeizureQuantity < 1 {
			return invalid("seizure requires seizure_quantity of at least 1"), nil
		}
	}

	target, err := e.store.GetAgent(ctx, *act.TargetAgentNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalid("agent %d does not exist", *act.TargetAgentNumber), nil
		}
		return ValidationResult{}, err
	}
	if target.Status == models.AgentStatusDead {
		return invalid("agent %d is dead", target.AgentNumber), nil
	}
	if target.Exiled {
		return invalid("agent %d is already exiled", target.AgentNumber), nil
	}

	law, err := e.store.GetLaw(ctx, act.LawID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalid("law %d does not exist", act.LawID), nil
		}
		return ValidationResult{}, err
	}
	if !law.Active {
		return invalid("law %d is repealed and cannot be enforced", law.ID), nil
	}
	return accepted(), nil
}

func (e *Engine) validateEnforceVote(ctx context.Context, agent *models.Agent, act *Action, now time.Time) (ValidationResult, error) {
	if act.Vote != string(models.EnforcementVoteSupport) && act.Vote != string(models.EnforcementVoteOppose) {
		return invalid("vote must be support or oppose"), nil
	}
	enf, err := e.store.GetEnforcement(ctx, act.EnforcementID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalid("enforcement %d does not exist", act.EnforcementID), nil
		}
		return ValidationResult{}, err
	}
	if enf.Status != models.EnforcementStatusPending || !enf.VotingClosesAt.After(now) {
		return invalid("voting on enforcement %d is closed", enf.ID), nil
	}
	if enf.TargetAgentNumber == agent.AgentNumber {
		return invalid("cannot vote on an enforcement targeting yourself"), nil
	}
	voted, err := e.store.HasEnforcementVote(ctx, enf.ID, agent.AgentNumber)
	if err != nil {
		return ValidationResult{}, err
	}
	if voted {
		return invalid("agent %d already voted on enforcement %d", agent.AgentNumber, enf.ID), nil
	}
	return accepted(), nil
}

// checkHolding verifies the agent holds at least qty of the resource.
func (e *Engine) checkHolding(ctx context.Context, agentNumber int, rt models.ResourceType, qty int) (ValidationResult, error) {
	inv, err := e.store.GetInventory(ctx, agentNumber)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("failed to read inventory for agent %d: %w", agentNumber, err)
	}
	if inv[rt] < qty {
		return invalid("agent %d holds %d %s, needs %d", agentNumber, inv[rt], rt, qty), nil
	}
	return accepted(), nil
}
