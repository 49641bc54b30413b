package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/metrics"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/store"
)

// resolveProposals settles every proposal whose voting window has closed.
// Each proposal resolves in its own transaction; one failure is logged and
// retried next tick without holding up the rest of the batch.
func (s *Service) resolveProposals(ctx context.Context, now time.Time) error {
	due, err := s.store.ListProposalsDue(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list due proposals: %w", err)
	}
	for _, p := range due {
		if err := s.resolveProposal(ctx, p, now); err != nil {
			s.log.Error("Failed to resolve proposal", "proposal_id", p.ID, "error", err)
		}
	}
	return nil
}

// resolveProposal tallies one closed proposal and applies the outcome. The
// status-guarded UPDATE is the idempotency key: a proposal some other pass
// already resolved loses the guard and is skipped whole, events included.
// A vote landing mid-resolution either made it into the counts this tally
// read or fails validation against the terminal status; no vote is counted
// after the verdict.
func (s *Service) resolveProposal(ctx context.Context, p *models.Proposal, now time.Time) error {
	status := models.ProposalStatusFailed
	if p.YesCount > p.NoCount {
		status = models.ProposalStatusPassed
	}
	day := identity.SimulationDay(now)

	return s.store.WithTx(ctx, func(tx *store.Store) error {
		won, err := tx.ResolveProposal(ctx, p.ID, status, now)
		if err != nil || !won {
			return err
		}
		if err := tx.AppendEvent(ctx, &models.Event{
			EventType:   models.EventProposalResolved,
			AgentNumber: &p.AuthorAgentNumber,
			Description: fmt.Sprintf("proposal %q %s with %d yes / %d no", p.Title, status, p.YesCount, p.NoCount),
			Metadata: map[string]any{
				"proposal_id":   p.ID,
				"proposal_type": string(p.ProposalType),
				"status":        string(status),
				"yes_count":     p.YesCount,
				"no_count":      p.NoCount,
			},
			SimulationDay: day,
		}); err != nil {
			return err
		}
		metrics.RecordProposalResolved(string(status))
		if status != models.ProposalStatusPassed {
			s.log.Info("Proposal failed", "proposal_id", p.ID, "yes", p.YesCount, "no", p.NoCount)
			return nil
		}
		switch p.ProposalType {
		case models.ProposalTypeLaw:
			return s.enactLaw(ctx, tx, p, day)
		case models.ProposalTypeRepeal:
			return s.repealLaw(ctx, tx, p, now, day)
		}
		return fmt.Errorf("unknown proposal type %q", p.ProposalType)
	})
}

// enactLaw creates the law a passed proposal described.
func (s *Service) enactLaw(ctx context.Context, tx *store.Store, p *models.Proposal, day string) error {
	law := &models.Law{
		Title:             p.Title,
		Description:       p.Description,
		AuthorAgentNumber: p.AuthorAgentNumber,
		ProposalID:        p.ID,
	}
	if err := tx.CreateLaw(ctx, law); err != nil {
		return err
	}
	if err := tx.AppendEvent(ctx, &models.Event{
		EventType:     models.EventLawPassed,
		AgentNumber:   &p.AuthorAgentNumber,
		Description:   fmt.Sprintf("law %q is now in force", law.Title),
		Metadata:      map[string]any{"law_id": law.ID, "proposal_id": p.ID},
		SimulationDay: day,
	}); err != nil {
		return err
	}
	s.log.Info("Law passed", "law_id", law.ID, "proposal_id", p.ID)
	return nil
}

// repealLaw deactivates the law a passed repeal targeted. A target already
// repealed by an earlier proposal leaves the tally standing but changes
// nothing further.
func (s *Service) repealLaw(ctx context.Context, tx *store.Store, p *models.Proposal, now time.Time, day string) error {
	if p.TargetLawID == nil {
		return fmt.Errorf("repeal proposal %d has no target law", p.ID)
	}
	repealed, err := tx.RepealLaw(ctx, *p.TargetLawID, p.ID, now)
	if err != nil {
		return err
	}
	if !repealed {
		s.log.Warn("Repeal target was not active", "proposal_id", p.ID, "law_id", *p.TargetLawID)
		return nil
	}
	law, err := tx.GetLaw(ctx, *p.TargetLawID)
	if err != nil {
		return err
	}
	if err := tx.AppendEvent(ctx, &models.Event{
		EventType:     models.EventLawRepealed,
		AgentNumber:   &p.AuthorAgentNumber,
		Description:   fmt.Sprintf("law %q was repealed", law.Title),
		Metadata:      map[string]any{"law_id": law.ID, "proposal_id": p.ID},
		SimulationDay: day,
	}); err != nil {
		return err
	}
	s.log.Info("Law repealed", "law_id", law.ID, "proposal_id", p.ID)
	return nil
}

// resolveEnforcements settles every enforcement motion whose voting window
// has closed.
func (s *Service) resolveEnforcements(ctx context.Context, now time.Time) error {
	due, err := s.store.ListEnforcementsDue(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list due enforcements: %w", err)
	}
	for _, e := range due {
		if err := s.resolveEnforcement(ctx, e, now); err != nil {
			s.log.Error("Failed to resolve enforcement", "enforcement_id", e.ID, "error", err)
		}
	}
	return nil
}

// resolveEnforcement applies one motion's verdict: approval requires support
// to reach the quorum recorded at creation and to beat opposition. Approved
// motions execute in the same transaction, so a motion is never left
// approved-but-unapplied across a crash.
func (s *Service) resolveEnforcement(ctx context.Context, e *models.Enforcement, now time.Time) error {
	approved := e.SupportCount >= e.VotesRequired && e.SupportCount > e.OpposeCount
	day := identity.SimulationDay(now)

	return s.store.WithTx(ctx, func(tx *store.Store) error {
		if !approved {
			won, err := tx.TransitionEnforcement(ctx, e.ID,
				models.EnforcementStatusPending, models.EnforcementStatusRejected, now)
			if err != nil || !won {
				return err
			}
			if err := tx.AppendEvent(ctx, enforcementResolvedEvent(e, models.EnforcementStatusRejected, day)); err != nil {
				return err
			}
			metrics.RecordEnforcementResolved(string(models.EnforcementStatusRejected))
			s.log.Info("Enforcement rejected", "enforcement_id", e.ID,
				"support", e.SupportCount, "oppose", e.OpposeCount, "required", e.VotesRequired)
			return nil
		}

		won, err := tx.TransitionEnforcement(ctx, e.ID,
			models.EnforcementStatusPending, models.EnforcementStatusApproved, now)
		if err != nil || !won {
			return err
		}
		if err := tx.AppendEvent(ctx, enforcementResolvedEvent(e, models.EnforcementStatusApproved, day)); err != nil {
			return err
		}

		detail, md, err := s.applyEnforcement(ctx, tx, e, now)
		if err != nil {
			return err
		}
		executed, err := tx.TransitionEnforcement(ctx, e.ID,
			models.EnforcementStatusApproved, models.EnforcementStatusExecuted, now)
		if err != nil {
			return err
		}
		if !executed {
			return fmt.Errorf("enforcement %d left approved state mid-execution", e.ID)
		}
		if err := tx.AppendEvent(ctx, &models.Event{
			EventType:     models.EventEnforcementExecuted,
			AgentNumber:   &e.TargetAgentNumber,
			Description:   detail,
			Metadata:      md,
			SimulationDay: day,
		}); err != nil {
			return err
		}
		metrics.RecordEnforcementResolved(string(models.EnforcementStatusExecuted))
		s.log.Info("Enforcement executed", "enforcement_id", e.ID,
			"type", string(e.EnforcementType), "target_agent_number", e.TargetAgentNumber)
		return nil
	})
}

// applyEnforcement performs the approved penalty. Seizure confiscates to the
// global pool, clamped to what the target actually holds; sanction and exile
// flip the agent row. Dormant or dead targets are penalized all the same, so
// a verdict never depends on resolution timing.
func (s *Service) applyEnforcement(ctx context.Context, tx *store.Store, e *models.Enforcement, now time.Time) (string, map[string]any, error) {
	target := e.TargetAgentNumber
	md := map[string]any{
		"enforcement_id":      e.ID,
		"enforcement_type":    string(e.EnforcementType),
		"target_agent_number": target,
		"law_id":              e.LawID,
	}

	switch e.EnforcementType {
	case models.EnforcementSanction:
		hours := 24 // matches the creation-time default
		if e.SanctionDurationHours != nil && *e.SanctionDurationHours > 0 {
			hours = *e.SanctionDurationHours
		}
		until := now.Add(time.Duration(hours) * time.Hour)
		if err := tx.SetAgentSanction(ctx, target, &until); err != nil {
			return "", nil, err
		}
		md["sanctioned_until"] = until.UTC().Format(time.RFC3339)
		return fmt.Sprintf("agent %d sanctioned for %d hours under law %d", target, hours, e.LawID), md, nil

	case models.EnforcementSeizure:
		if e.SeizureResource == nil || e.SeizureQuantity == nil {
			return "", nil, fmt.Errorf("seizure enforcement %d is missing resource or quantity", e.ID)
		}
		rt, want := *e.SeizureResource, *e.SeizureQuantity
		seized := want
		if _, err := tx.AdjustInventory(ctx, target, rt, -want); err != nil {
			if !errors.Is(err, store.ErrInsufficient) {
				return "", nil, err
			}
			// Target holds less than sought; the failed adjust left the row
			// locked, so taking the remainder cannot race.
			inv, err := tx.GetInventory(ctx, target)
			if err != nil {
				return "", nil, err
			}
			seized = inv[rt]
			if seized > 0 {
				if _, err := tx.AdjustInventory(ctx, target, rt, -seized); err != nil {
					return "", nil, err
				}
			}
		}
		if seized > 0 {
			if err := tx.AdjustGlobalResource(ctx, rt, seized); err != nil {
				return "", nil, err
			}
			if err := tx.RecordTransaction(ctx, &models.Transaction{
				TransactionType: models.TransactionSeizure,
				FromAgentNumber: &target,
				ResourceType:    rt,
				Quantity:        seized,
				Metadata:        map[string]any{"enforcement_id": e.ID, "law_id": e.LawID},
			}); err != nil {
				return "", nil, err
			}
		}
		md["resource_type"] = string(rt)
		md["quantity_sought"] = want
		md["quantity_seized"] = seized
		return fmt.Sprintf("seized %d of %d %s from agent %d for the common pool",
			seized, want, rt, target), md, nil

	case models.EnforcementExile:
		if err := tx.SetAgentExiled(ctx, target, true); err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("agent %d exiled under law %d", target, e.LawID), md, nil
	}
	return "", nil, fmt.Errorf("unknown enforcement type %q", e.EnforcementType)
}

func enforcementResolvedEvent(e *models.Enforcement, status models.EnforcementStatus, day string) *models.Event {
	return &models.Event{
		EventType:   models.EventEnforcementResolved,
		AgentNumber: &e.TargetAgentNumber,
		Description: fmt.Sprintf("%s enforcement against agent %d %s with %d support / %d oppose (quorum %d)",
			e.EnforcementType, e.TargetAgentNumber, status, e.SupportCount, e.OpposeCount, e.VotesRequired),
		Metadata: map[string]any{
			"enforcement_id":      e.ID,
			"enforcement_type":    string(e.EnforcementType),
			"target_agent_number": e.TargetAgentNumber,
			"law_id":              e.LawID,
			"status":              string(status),
			"support_count":       e.SupportCount,
			"oppose_count":        e.OpposeCount,
			"votes_required":      e.VotesRequired,
		},
		SimulationDay: day,
	}
}
