package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/polis-labs/polis/pkg/models"
)

// GetInventory returns the agent's holdings keyed by resource type.
func (s *Store) GetInventory(ctx context.Context, agentNumber int) (models.Inventory, error) {
	rows, err := s.q.Query(ctx, `
		SELECT resource_type, quantity FROM agent_inventories
		WHERE agent_number = $1 ORDER BY resource_type`, agentNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory for agent %d: %w", agentNumber, err)
	}
	defer rows.Close()

	inv := make(models.Inventory, len(models.ResourceTypes))
	for rows.Next() {
		var rt models.ResourceType
		var q int
		if err := rows.Scan(&rt, &q); err != nil {
			return nil, fmt.Errorf("failed to scan inventory row: %w", err)
		}
		inv[rt] = q
	}
	return inv, rows.Err()
}

// AdjustInventory applies a delta to one (agent, resource) quantity. A delta
// that would take the quantity negative returns ErrInsufficient without
// writing. Locks the row FOR UPDATE; multi-row adjustments must be issued in
// canonical order (agent_number, then resource_type) to stay deadlock-free.
func (s *Store) AdjustInventory(ctx context.Context, agentNumber int, rt models.ResourceType, delta int) (int, error) {
	var current int
	err := s.q.QueryRow(ctx, `
		SELECT quantity FROM agent_inventories
		WHERE agent_number = $1 AND resource_type = $2
		FOR UPDATE`, agentNumber, rt).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to lock inventory for agent %d: %w", agentNumber, err)
	}
	next := current + delta
	if next < 0 {
		return current, fmt.Errorf("agent %d has %d %s, needs %d: %w",
			agentNumber, current, rt, -delta, ErrInsufficient)
	}
	if _, err := s.q.Exec(ctx, `
		UPDATE agent_inventories SET quantity = $3, updated_at = now()
		WHERE agent_number = $1 AND resource_type = $2`, agentNumber, rt, next); err != nil {
		return current, fmt.Errorf("failed to adjust inventory for agent %d: %w", agentNumber, err)
	}
	return next, nil
}

// SetInventory overwrites one quantity. Used by season seeding.
func (s *Store) SetInventory(ctx context.Context, agentNumber int, rt models.ResourceType, quantity int) error {
	if quantity < 0 {
		return ErrInsufficient
	}
	if _, err := s.q.Exec(ctx, `
		INSERT INTO agent_inventories (agent_number, resource_type, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (agent_number, resource_type) DO UPDATE
		SET quantity = EXCLUDED.quantity, updated_at = now()`,
		agentNumber, rt, quantity); err != nil {
		return fmt.Errorf("failed to set inventory for agent %d: %w", agentNumber, err)
	}
	return nil
}

// GetGlobalResources returns the shared pool.
func (s *Store) GetGlobalResources(ctx context.Context) (*models.GlobalResources, error) {
	var g models.GlobalResources
	err := s.q.QueryRow(ctx,
		`SELECT food, energy, materials, updated_at FROM global_resources WHERE id = 1`).
		Scan(&g.Food, &g.Energy, &g.Materials, &g.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get global resources: %w", err)
	}
	return &g, nil
}

// AdjustGlobalResource applies a delta to one pool quantity, clamping draws
// at zero via the CHECK constraint. Returns ErrInsufficient when the pool
// cannot cover the draw.
func (s *Store) AdjustGlobalResource(ctx context.Context, rt models.ResourceType, delta int) error {
	var column string
	switch rt {
	case models.ResourceFood:
		column = "food"
	case models.ResourceEnergy:
		column = "energy"
	case models.ResourceMaterials:
		column = "materials"
	default:
		return fmt.Errorf("unknown resource type %q", rt)
	}
	tag, err := s.q.Exec(ctx, fmt.Sprintf(`
		UPDATE global_resources SET %s = %s + $1, updated_at = now()
		WHERE id = 1 AND %s + $1 >= 0`, column, column, column), delta)
	if err != nil {
		return fmt.Errorf("failed to adjust global %s: %w", rt, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("global %s pool cannot cover %d: %w", rt, -delta, ErrInsufficient)
	}
	return nil
}

// RecordTransaction appends one resource-movement row.
func (s *Store) RecordTransaction(ctx context.Context, t *models.Transaction) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO transactions (transaction_type, from_agent_number, to_agent_number,
			resource_type, quantity, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		t.TransactionType, t.FromAgentNumber, t.ToAgentNumber,
		t.ResourceType, t.Quantity, t.Metadata).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

// CountTransactionsSince counts rows of the given type since a timestamp.
// The emergence metrics derive conflict/cooperation rates from these counts.
func (s *Store) CountTransactionsSince(ctx context.Context, tt models.TransactionType, since time.Time) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE transaction_type = $1 AND created_at >= $2`, tt, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s transactions: %w", tt, err)
	}
	return n, nil
}

// CountTransactionsBetween counts rows of the given type in [from, to).
func (s *Store) CountTransactionsBetween(ctx context.Context, tt models.TransactionType, from, to time.Time) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE transaction_type = $1 AND created_at >= $2 AND created_at < $3`, tt, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s transactions: %w", tt, err)
	}
	return n, nil
}
