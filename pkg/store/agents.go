package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/polis-labs/polis/pkg/models"
)

const agentColumns = `agent_number, display_name, model_type, tier, personality_type,
	status, exiled, sanctioned_until, starvation_cycles, died_at, death_cause,
	current_intent, last_checkpoint_at, next_checkpoint_at, checkpoint_number,
	system_prompt, created_at, updated_at`

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(
		&a.AgentNumber, &a.DisplayName, &a.ModelType, &a.Tier, &a.PersonalityType,
		&a.Status, &a.Exiled, &a.SanctionedUntil, &a.StarvationCycles, &a.DiedAt,
		&a.DeathCause, &a.CurrentIntent, &a.LastCheckpointAt, &a.NextCheckpointAt,
		&a.CheckpointNumber, &a.SystemPrompt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}
	return &a, nil
}

// CreateAgent inserts a new agent with empty inventory rows for every
// resource type.
func (s *Store) CreateAgent(ctx context.Context, a *models.Agent) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO agents (
			agent_number, display_name, model_type, tier, personality_type,
			status, system_prompt, next_checkpoint_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.AgentNumber, a.DisplayName, a.ModelType, a.Tier, a.PersonalityType,
		a.Status, a.SystemPrompt, a.NextCheckpointAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("agent %d: %w", a.AgentNumber, ErrDuplicate)
		}
		return fmt.Errorf("failed to create agent %d: %w", a.AgentNumber, err)
	}
	for _, rt := range models.ResourceTypes {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO agent_inventories (agent_number, resource_type, quantity)
			VALUES ($1, $2, 0)
			ON CONFLICT (agent_number, resource_type) DO NOTHING`,
			a.AgentNumber, rt,
		); err != nil {
			return fmt.Errorf("failed to seed inventory for agent %d: %w", a.AgentNumber, err)
		}
	}
	return nil
}

// GetAgent returns one agent by number.
func (s *Store) GetAgent(ctx context.Context, agentNumber int) (*models.Agent, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE agent_number = $1`, agentNumber)
	return scanAgent(row)
}

// ListAgents returns all agents ordered by number.
func (s *Store) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	return s.listAgentsWhere(ctx, "TRUE")
}

// ListAgentsByStatus returns agents with the given status, ordered by number.
func (s *Store) ListAgentsByStatus(ctx context.Context, status models.AgentStatus) ([]*models.Agent, error) {
	return s.listAgentsWhere(ctx, "status = $1", status)
}

// ListSurvivors returns agents that are not dead and not exiled, ordered by
// agent number. This is the season-snapshot selection.
func (s *Store) ListSurvivors(ctx context.Context) ([]*models.Agent, error) {
	return s.listAgentsWhere(ctx, "status != 'dead' AND NOT exiled")
}

func (s *Store) listAgentsWhere(ctx context.Context, where string, args ...any) ([]*models.Agent, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE `+where+` ORDER BY agent_number`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgentStatus sets status and, for deaths, the death metadata.
func (s *Store) UpdateAgentStatus(ctx context.Context, agentNumber int, status models.AgentStatus, deathCause *string) error {
	var tag string
	var err error
	if status == models.AgentStatusDead {
		_, err = s.q.Exec(ctx, `
			UPDATE agents SET status = $2, died_at = now(), death_cause = $3, updated_at = now()
			WHERE agent_number = $1`, agentNumber, status, deathCause)
		tag = "mark dead"
	} else {
		_, err = s.q.Exec(ctx, `
			UPDATE agents SET status = $2, updated_at = now()
			WHERE agent_number = $1`, agentNumber, status)
		tag = "update status"
	}
	if err != nil {
		return fmt.Errorf("failed to %s for agent %d: %w", tag, agentNumber, err)
	}
	return nil
}

// SetAgentSanction sets or clears the sanction expiry.
func (s *Store) SetAgentSanction(ctx context.Context, agentNumber int, until *time.Time) error {
	if _, err := s.q.Exec(ctx, `
		UPDATE agents SET sanctioned_until = $2, updated_at = now()
		WHERE agent_number = $1`, agentNumber, until); err != nil {
		return fmt.Errorf("failed to set sanction for agent %d: %w", agentNumber, err)
	}
	return nil
}

// SetAgentExiled flips the exile flag.
func (s *Store) SetAgentExiled(ctx context.Context, agentNumber int, exiled bool) error {
	if _, err := s.q.Exec(ctx, `
		UPDATE agents SET exiled = $2, updated_at = now()
		WHERE agent_number = $1`, agentNumber, exiled); err != nil {
		return fmt.Errorf("failed to set exile for agent %d: %w", agentNumber, err)
	}
	return nil
}

// UpdateAgentIntent stores the agent's declared intent for the next window.
func (s *Store) UpdateAgentIntent(ctx context.Context, agentNumber int, intent string) error {
	if _, err := s.q.Exec(ctx, `
		UPDATE agents SET current_intent = $2, updated_at = now()
		WHERE agent_number = $1`, agentNumber, intent); err != nil {
		return fmt.Errorf("failed to update intent for agent %d: %w", agentNumber, err)
	}
	return nil
}

// AdvanceCheckpoint records a completed checkpoint and schedules the next.
func (s *Store) AdvanceCheckpoint(ctx context.Context, agentNumber int, completedAt, nextAt time.Time) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		UPDATE agents
		SET checkpoint_number = checkpoint_number + 1,
		    last_checkpoint_at = $2, next_checkpoint_at = $3, updated_at = now()
		WHERE agent_number = $1
		RETURNING checkpoint_number`,
		agentNumber, completedAt, nextAt).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to advance checkpoint for agent %d: %w", agentNumber, err)
	}
	return n, nil
}

// ClaimDueAgent atomically claims the next active agent whose checkpoint is
// due at now: the checkpoint advances and the next one is scheduled in the
// same statement, so concurrent workers each claim a different agent.
// SKIP LOCKED makes contended rows invisible rather than blocking. Returns
// ErrNotFound when no agent is due.
func (s *Store) ClaimDueAgent(ctx context.Context, now, nextAt time.Time) (*models.Agent, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE agents
		SET checkpoint_number = checkpoint_number + 1,
		    last_checkpoint_at = $1, next_checkpoint_at = $2, updated_at = now()
		WHERE agent_number = (
			SELECT agent_number FROM agents
			WHERE status = 'active'
			  AND (next_checkpoint_at IS NULL OR next_checkpoint_at <= $1)
			ORDER BY next_checkpoint_at ASC NULLS FIRST, agent_number ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+agentColumns, now, nextAt)
	return scanAgent(row)
}

// IncrementStarvation bumps the starvation counter and returns the new value.
func (s *Store) IncrementStarvation(ctx context.Context, agentNumber int) (int, error) {
	var cycles int
	err := s.q.QueryRow(ctx, `
		UPDATE agents SET starvation_cycles = starvation_cycles + 1, updated_at = now()
		WHERE agent_number = $1
		RETURNING starvation_cycles`, agentNumber).Scan(&cycles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment starvation for agent %d: %w", agentNumber, err)
	}
	return cycles, nil
}

// ResetStarvation clears the starvation counter after a fed day.
func (s *Store) ResetStarvation(ctx context.Context, agentNumber int) error {
	if _, err := s.q.Exec(ctx, `
		UPDATE agents SET starvation_cycles = 0, updated_at = now()
		WHERE agent_number = $1 AND starvation_cycles != 0`, agentNumber); err != nil {
		return fmt.Errorf("failed to reset starvation for agent %d: %w", agentNumber, err)
	}
	return nil
}

// NextAgentNumber returns max(agent_number)+1, the number a fresh spawn gets.
func (s *Store) NextAgentNumber(ctx context.Context) (int, error) {
	var next int
	if err := s.q.QueryRow(ctx,
		`SELECT COALESCE(MAX(agent_number), 0) + 1 FROM agents`).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to compute next agent number: %w", err)
	}
	return next, nil
}

// GetAgentMemory returns the agent's long-term memory row, or ErrNotFound.
func (s *Store) GetAgentMemory(ctx context.Context, agentNumber int) (*models.AgentMemory, error) {
	var m models.AgentMemory
	err := s.q.QueryRow(ctx, `
		SELECT agent_number, summary, last_checkpoint_number, updated_at
		FROM agent_memories WHERE agent_number = $1`, agentNumber).
		Scan(&m.AgentNumber, &m.Summary, &m.LastCheckpointNumber, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get memory for agent %d: %w", agentNumber, err)
	}
	return &m, nil
}

// DeleteAgentMemory drops the agent's memory row. Season seeding calls this
// for carryovers: holdings cross the boundary, memories do not.
func (s *Store) DeleteAgentMemory(ctx context.Context, agentNumber int) error {
	if _, err := s.q.Exec(ctx,
		`DELETE FROM agent_memories WHERE agent_number = $1`, agentNumber); err != nil {
		return fmt.Errorf("failed to delete memory for agent %d: %w", agentNumber, err)
	}
	return nil
}

// UpsertAgentMemory rewrites the agent's memory summary.
func (s *Store) UpsertAgentMemory(ctx context.Context, agentNumber int, summary string, checkpointNumber int) error {
	if _, err := s.q.Exec(ctx, `
		INSERT INTO agent_memories (agent_number, summary, last_checkpoint_number, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (agent_number) DO UPDATE
		SET summary = EXCLUDED.summary,
		    last_checkpoint_number = EXCLUDED.last_checkpoint_number,
		    updated_at = now()`,
		agentNumber, summary, checkpointNumber); err != nil {
		return fmt.Errorf("failed to upsert memory for agent %d: %w", agentNumber, err)
	}
	return nil
}
