package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/polis-labs/polis/pkg/models"
)

const proposalColumns = `id, author_agent_number, proposal_type, title, description,
	target_law_id, status, voting_closes_at, yes_count, no_count, created_at, resolved_at`

func scanProposal(row pgx.Row) (*models.Proposal, error) {
	var p models.Proposal
	err := row.Scan(&p.ID, &p.AuthorAgentNumber, &p.ProposalType, &p.Title, &p.Description,
		&p.TargetLawID, &p.Status, &p.VotingClosesAt, &p.YesCount, &p.NoCount,
		&p.CreatedAt, &p.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan proposal: %w", err)
	}
	return &p, nil
}

// CreateProposal inserts a proposal in the active state.
func (s *Store) CreateProposal(ctx context.Context, p *models.Proposal) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO proposals (author_agent_number, proposal_type, title, description,
			target_law_id, voting_closes_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, status, created_at`,
		p.AuthorAgentNumber, p.ProposalType, p.Title, p.Description,
		p.TargetLawID, p.VotingClosesAt).
		Scan(&p.ID, &p.Status, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create proposal: %w", err)
	}
	return nil
}

// GetProposal returns one proposal by id.
func (s *Store) GetProposal(ctx context.Context, id int64) (*models.Proposal, error) {
	row := s.q.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id)
	return scanProposal(row)
}

// ListOpenProposals returns active proposals, oldest first.
func (s *Store) ListOpenProposals(ctx context.Context) ([]*models.Proposal, error) {
	return s.listProposalsWhere(ctx, `status = 'active'`)
}

// ListProposalsDue returns active proposals whose voting window has closed.
func (s *Store) ListProposalsDue(ctx context.Context, now time.Time) ([]*models.Proposal, error) {
	return s.listProposalsWhere(ctx, `status = 'active' AND voting_closes_at <= $1`, now)
}

func (s *Store) listProposalsWhere(ctx context.Context, where string, args ...any) ([]*models.Proposal, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*models.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// CastVote records a vote and bumps the tally. A second vote by the same
// agent returns ErrDuplicate without changing anything: the first write is
// authoritative.
func (s *Store) CastVote(ctx context.Context, v *models.Vote) error {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO votes (proposal_id, agent_number, choice)
		VALUES ($1, $2, $3)
		ON CONFLICT (proposal_id, agent_number) DO NOTHING`,
		v.ProposalID, v.AgentNumber, v.Choice)
	if err != nil {
		return fmt.Errorf("failed to cast vote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %d already voted on proposal %d: %w",
			v.AgentNumber, v.ProposalID, ErrDuplicate)
	}

	column := "no_count"
	if v.Choice == models.VoteYes {
		column = "yes_count"
	}
	if _, err := s.q.Exec(ctx,
		`UPDATE proposals SET `+column+` = `+column+` + 1 WHERE id = $1`, v.ProposalID); err != nil {
		return fmt.Errorf("failed to bump vote tally: %w", err)
	}
	return nil
}

// HasVoted reports whether the agent already voted on the proposal.
func (s *Store) HasVoted(ctx context.Context, proposalID int64, agentNumber int) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM votes WHERE proposal_id = $1 AND agent_number = $2)`,
		proposalID, agentNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check vote existence: %w", err)
	}
	return exists, nil
}

// ResolveProposal transitions an active proposal to a terminal status. The
// WHERE guard makes the resolver the single effective writer: a proposal
// already resolved by a concurrent pass is left untouched and reported via
// the false return.
func (s *Store) ResolveProposal(ctx context.Context, id int64, status models.ProposalStatus, resolvedAt time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE proposals SET status = $2, resolved_at = $3
		WHERE id = $1 AND status = 'active'`, id, status, resolvedAt)
	if err != nil {
		return false, fmt.Errorf("failed to resolve proposal %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountProposalsByStatus returns proposal counts grouped by status.
func (s *Store) CountProposalsByStatus(ctx context.Context) (map[models.ProposalStatus]int, error) {
	rows, err := s.q.Query(ctx, `SELECT status, COUNT(*) FROM proposals GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count proposals by status: %w", err)
	}
	defer rows.Close()

	counts := map[models.ProposalStatus]int{}
	for rows.Next() {
		var status models.ProposalStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan proposal status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

const lawColumns = `id, title, description, author_agent_number, proposal_id, active,
	passed_at, repealed_at, repealed_by_proposal_id, carried_from_season_id`

func scanLaw(row pgx.Row) (*models.Law, error) {
	var l models.Law
	err := row.Scan(&l.ID, &l.Title, &l.Description, &l.AuthorAgentNumber, &l.ProposalID,
		&l.Active, &l.PassedAt, &l.RepealedAt, &l.RepealedByProposal, &l.CarriedFromSeasonID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan law: %w", err)
	}
	return &l, nil
}

// CreateLaw inserts a law, normally from a passed proposal.
func (s *Store) CreateLaw(ctx context.Context, l *models.Law) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO laws (title, description, author_agent_number, proposal_id, carried_from_season_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, active, passed_at`,
		l.Title, l.Description, l.AuthorAgentNumber, l.ProposalID, l.CarriedFromSeasonID).
		Scan(&l.ID, &l.Active, &l.PassedAt)
	if err != nil {
		return fmt.Errorf("failed to create law: %w", err)
	}
	return nil
}

// GetLaw returns one law by id.
func (s *Store) GetLaw(ctx context.Context, id int64) (*models.Law, error) {
	row := s.q.QueryRow(ctx, `SELECT `+lawColumns+` FROM laws WHERE id = $1`, id)
	return scanLaw(row)
}

// ListActiveLaws returns laws in force, oldest first.
func (s *Store) ListActiveLaws(ctx context.Context) ([]*models.Law, error) {
	rows, err := s.q.Query(ctx, `SELECT `+lawColumns+` FROM laws WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active laws: %w", err)
	}
	defer rows.Close()

	var laws []*models.Law
	for rows.Next() {
		l, err := scanLaw(rows)
		if err != nil {
			return nil, err
		}
		laws = append(laws, l)
	}
	return laws, rows.Err()
}

// CountLawsAuthoredBy counts laws an agent has authored (active or not);
// an input to the epoch score.
func (s *Store) CountLawsAuthoredBy(ctx context.Context, agentNumber int) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM laws WHERE author_agent_number = $1`, agentNumber).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count laws for agent %d: %w", agentNumber, err)
	}
	return n, nil
}

// CountLaws returns total and still-active law counts.
func (s *Store) CountLaws(ctx context.Context) (total, active int, err error) {
	err = s.q.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE active) FROM laws`).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count laws: %w", err)
	}
	return total, active, nil
}

// RepealLaw deactivates a law, recording the repealing proposal.
func (s *Store) RepealLaw(ctx context.Context, lawID, proposalID int64, repealedAt time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE laws SET active = FALSE, repealed_at = $3, repealed_by_proposal_id = $2
		WHERE id = $1 AND active`, lawID, proposalID, repealedAt)
	if err != nil {
		return false, fmt.Errorf("failed to repeal law %d: %w", lawID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkLawsCarried stamps provenance on every active law at a season boundary
// and returns how many were carried.
func (s *Store) MarkLawsCarried(ctx context.Context, fromSeasonID string) (int, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE laws SET carried_from_season_id = $1 WHERE active`, fromSeasonID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark laws carried from %s: %w", fromSeasonID, err)
	}
	return int(tag.RowsAffected()), nil
}

// RetireActiveLaws deactivates every active law, used when a season seeds
// without carrying the legal code. No repealing proposal exists for these.
func (s *Store) RetireActiveLaws(ctx context.Context, at time.Time) (int, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE laws SET active = FALSE, repealed_at = $1 WHERE active`, at)
	if err != nil {
		return 0, fmt.Errorf("failed to retire active laws: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

const enforcementColumns = `id, initiator_agent_number, target_agent_number, law_id,
	enforcement_type, violation_description, status, votes_required, support_count,
	oppose_count, voting_closes_at, sanction_duration_hours, seizure_resource,
	seizure_quantity, created_at, resolved_at, executed_at`

func scanEnforcement(row pgx.Row) (*models.Enforcement, error) {
	var e models.Enforcement
	err := row.Scan(&e.ID, &e.InitiatorAgentNumber, &e.TargetAgentNumber, &e.LawID,
		&e.EnforcementType, &e.ViolationDescription, &e.Status, &e.VotesRequired,
		&e.SupportCount, &e.OpposeCount, &e.VotingClosesAt, &e.SanctionDurationHours,
		&e.SeizureResource, &e.SeizureQuantity, &e.CreatedAt, &e.ResolvedAt, &e.ExecutedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan enforcement: %w", err)
	}
	return &e, nil
}

// CreateEnforcement inserts a pending enforcement motion.
func (s *Store) CreateEnforcement(ctx context.Context, e *models.Enforcement) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO enforcements (initiator_agent_number, target_agent_number, law_id,
			enforcement_type, violation_description, votes_required, voting_closes_at,
			sanction_duration_hours, seizure_resource, seizure_quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, status, created_at`,
		e.InitiatorAgentNumber, e.TargetAgentNumber, e.LawID,
		e.EnforcementType, e.ViolationDescription, e.VotesRequired, e.VotingClosesAt,
		e.SanctionDurationHours, e.SeizureResource, e.SeizureQuantity).
		Scan(&e.ID, &e.Status, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create enforcement: %w", err)
	}
	return nil
}

// GetEnforcement returns one enforcement by id.
func (s *Store) GetEnforcement(ctx context.Context, id int64) (*models.Enforcement, error) {
	row := s.q.QueryRow(ctx, `SELECT `+enforcementColumns+` FROM enforcements WHERE id = $1`, id)
	return scanEnforcement(row)
}

// ListPendingEnforcements returns motions still open for voting.
func (s *Store) ListPendingEnforcements(ctx context.Context) ([]*models.Enforcement, error) {
	return s.listEnforcementsWhere(ctx, `status = 'pending'`)
}

// ListEnforcementsDue returns pending motions whose voting window has closed.
func (s *Store) ListEnforcementsDue(ctx context.Context, now time.Time) ([]*models.Enforcement, error) {
	return s.listEnforcementsWhere(ctx, `status = 'pending' AND voting_closes_at <= $1`, now)
}

// CountEnforcementsAgainst counts executed enforcements targeting an agent;
// an input to the epoch score.
func (s *Store) CountEnforcementsAgainst(ctx context.Context, agentNumber int) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM enforcements
		WHERE target_agent_number = $1 AND status = 'executed'`, agentNumber).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count enforcements against agent %d: %w", agentNumber, err)
	}
	return n, nil
}

// CountEnforcementsByStatus returns enforcement counts grouped by status.
func (s *Store) CountEnforcementsByStatus(ctx context.Context) (map[models.EnforcementStatus]int, error) {
	rows, err := s.q.Query(ctx, `SELECT status, COUNT(*) FROM enforcements GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count enforcements by status: %w", err)
	}
	defer rows.Close()

	counts := map[models.EnforcementStatus]int{}
	for rows.Next() {
		var status models.EnforcementStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan enforcement status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *Store) listEnforcementsWhere(ctx context.Context, where string, args ...any) ([]*models.Enforcement, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+enforcementColumns+` FROM enforcements WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list enforcements: %w", err)
	}
	defer rows.Close()

	var out []*models.Enforcement
	for rows.Next() {
		e, err := scanEnforcement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CastEnforcementVote records a support/oppose vote and bumps the tally.
// Duplicate votes return ErrDuplicate.
func (s *Store) CastEnforcementVote(ctx context.Context, v *models.EnforcementVote) error {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO enforcement_votes (enforcement_id, agent_number, choice)
		VALUES ($1, $2, $3)
		ON CONFLICT (enforcement_id, agent_number) DO NOTHING`,
		v.EnforcementID, v.AgentNumber, v.Choice)
	if err != nil {
		return fmt.Errorf("failed to cast enforcement vote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %d already voted on enforcement %d: %w",
			v.AgentNumber, v.EnforcementID, ErrDuplicate)
	}

	column := "oppose_count"
	if v.Choice == models.EnforcementVoteSupport {
		column = "support_count"
	}
	if _, err := s.q.Exec(ctx,
		`UPDATE enforcements SET `+column+` = `+column+` + 1 WHERE id = $1`, v.EnforcementID); err != nil {
		return fmt.Errorf("failed to bump enforcement tally: %w", err)
	}
	return nil
}

// HasEnforcementVote reports whether the agent already voted on the motion.
func (s *Store) HasEnforcementVote(ctx context.Context, enforcementID int64, agentNumber int) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM enforcement_votes WHERE enforcement_id = $1 AND agent_number = $2)`,
		enforcementID, agentNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check enforcement vote existence: %w", err)
	}
	return exists, nil
}

// TransitionEnforcement moves a motion from one status to another. The
// WHERE guard keeps transitions single-writer; false means the motion was
// no longer in the expected source status.
func (s *Store) TransitionEnforcement(ctx context.Context, id int64, from, to models.EnforcementStatus, at time.Time) (bool, error) {
	var tag string
	switch to {
	case models.EnforcementStatusExecuted:
		tag = "executed_at"
	default:
		tag = "resolved_at"
	}
	res, err := s.q.Exec(ctx, `
		UPDATE enforcements SET status = $3, `+tag+` = $4
		WHERE id = $1 AND status = $2`, id, from, to, at)
	if err != nil {
		return false, fmt.Errorf("failed to transition enforcement %d to %s: %w", id, to, err)
	}
	return res.RowsAffected() == 1, nil
}
