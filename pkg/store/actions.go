package store

import (
	"context"
	"fmt"
	"time"

	"github.com/polis-labs/polis/pkg/models"
)

// RecordAction appends one attempted-action row, successful or not.
func (s *Store) RecordAction(ctx context.Context, a *models.AgentAction) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO agent_actions (agent_number, action_type, success, detail)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		a.AgentNumber, a.ActionType, a.Success, a.Detail).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}
	return nil
}

// CountActionsSince counts an agent's recorded actions with
// created_at >= since. Rate limiting compares this against the hourly cap.
func (s *Store) CountActionsSince(ctx context.Context, agentNumber int, since time.Time) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM agent_actions
		WHERE agent_number = $1 AND created_at >= $2`, agentNumber, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count actions for agent %d: %w", agentNumber, err)
	}
	return n, nil
}

// CountDistinctActorsSince counts agents with at least one action since the
// timestamp. Participation rate = this over the active population.
func (s *Store) CountDistinctActorsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(DISTINCT agent_number) FROM agent_actions
		WHERE created_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count distinct actors: %w", err)
	}
	return n, nil
}

// CountWorkCyclesToday counts an agent's successful work actions for one
// job on the given simulation day. Work yields diminish with this count.
func (s *Store) CountWorkCyclesToday(ctx context.Context, agentNumber int, job string, dayStart time.Time) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM agent_actions
		WHERE agent_number = $1 AND action_type = $2 AND success AND created_at >= $3`,
		agentNumber, "work:"+job, dayStart).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count work cycles for agent %d: %w", agentNumber, err)
	}
	return n, nil
}
