package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/polis-labs/polis/pkg/models"
)

// InsertMetricSnapshot writes one daily emergence snapshot. The write is
// idempotent on simulation_day: a re-run of the same day is a no-op and
// returns false.
func (s *Store) InsertMetricSnapshot(ctx context.Context, m *models.EmergenceMetricSnapshot) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO emergence_metric_snapshots (simulation_day, participation_rate,
			gini_coefficient, conflict_rate, cooperation_rate, coalition_churn,
			active_agents, total_wealth)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (simulation_day) DO NOTHING`,
		m.SimulationDay, m.ParticipationRate, m.GiniCoefficient, m.ConflictRate,
		m.CooperationRate, m.CoalitionChurn, m.ActiveAgents, m.TotalWealth)
	if err != nil {
		return false, fmt.Errorf("failed to insert metric snapshot for %s: %w", m.SimulationDay, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetMetricSnapshot returns one day's snapshot, or ErrNotFound.
func (s *Store) GetMetricSnapshot(ctx context.Context, day string) (*models.EmergenceMetricSnapshot, error) {
	var m models.EmergenceMetricSnapshot
	err := s.q.QueryRow(ctx, `
		SELECT id, simulation_day, participation_rate, gini_coefficient, conflict_rate,
		       cooperation_rate, coalition_churn, active_agents, total_wealth, created_at
		FROM emergence_metric_snapshots WHERE simulation_day = $1`, day).
		Scan(&m.ID, &m.SimulationDay, &m.ParticipationRate, &m.GiniCoefficient,
			&m.ConflictRate, &m.CooperationRate, &m.CoalitionChurn,
			&m.ActiveAgents, &m.TotalWealth, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get metric snapshot for %s: %w", day, err)
	}
	return &m, nil
}

// LatestMetricSnapshot returns the most recent day's snapshot, or
// ErrNotFound for an empty table.
func (s *Store) LatestMetricSnapshot(ctx context.Context) (*models.EmergenceMetricSnapshot, error) {
	var m models.EmergenceMetricSnapshot
	err := s.q.QueryRow(ctx, `
		SELECT id, simulation_day, participation_rate, gini_coefficient, conflict_rate,
		       cooperation_rate, coalition_churn, active_agents, total_wealth, created_at
		FROM emergence_metric_snapshots ORDER BY simulation_day DESC LIMIT 1`).
		Scan(&m.ID, &m.SimulationDay, &m.ParticipationRate, &m.GiniCoefficient,
			&m.ConflictRate, &m.CooperationRate, &m.CoalitionChurn,
			&m.ActiveAgents, &m.TotalWealth, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest metric snapshot: %w", err)
	}
	return &m, nil
}

// ListMetricSnapshots returns snapshots in day order.
func (s *Store) ListMetricSnapshots(ctx context.Context) ([]*models.EmergenceMetricSnapshot, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, simulation_day, participation_rate, gini_coefficient, conflict_rate,
		       cooperation_rate, coalition_churn, active_agents, total_wealth, created_at
		FROM emergence_metric_snapshots ORDER BY simulation_day`)
	if err != nil {
		return nil, fmt.Errorf("failed to list metric snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*models.EmergenceMetricSnapshot
	for rows.Next() {
		var m models.EmergenceMetricSnapshot
		if err := rows.Scan(&m.ID, &m.SimulationDay, &m.ParticipationRate, &m.GiniCoefficient,
			&m.ConflictRate, &m.CooperationRate, &m.CoalitionChurn,
			&m.ActiveAgents, &m.TotalWealth, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan metric snapshot: %w", err)
		}
		snaps = append(snaps, &m)
	}
	return snaps, rows.Err()
}

// SumWealth returns every living agent's total holdings, keyed by agent
// number. Gini and total-wealth metrics read this.
func (s *Store) SumWealth(ctx context.Context) (map[int]int, error) {
	rows, err := s.q.Query(ctx, `
		SELECT i.agent_number, COALESCE(SUM(i.quantity), 0)
		FROM agent_inventories i
		JOIN agents a ON a.agent_number = i.agent_number
		WHERE a.status != 'dead'
		GROUP BY i.agent_number`)
	if err != nil {
		return nil, fmt.Errorf("failed to sum wealth: %w", err)
	}
	defer rows.Close()

	wealth := map[int]int{}
	for rows.Next() {
		var agent, total int
		if err := rows.Scan(&agent, &total); err != nil {
			return nil, fmt.Errorf("failed to scan wealth row: %w", err)
		}
		wealth[agent] = total
	}
	return wealth, rows.Err()
}
