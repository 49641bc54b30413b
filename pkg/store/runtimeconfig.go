package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/polis-labs/polis/pkg/models"
)

// GetConfigOverride returns the stored override for a key, or ErrNotFound.
func (s *Store) GetConfigOverride(ctx context.Context, key string) (string, error) {
	var value string
	err := s.q.QueryRow(ctx,
		`SELECT config_value FROM runtime_config_overrides WHERE config_key = $1`, key).
		Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get config override %s: %w", key, err)
	}
	return value, nil
}

// ListConfigOverrides returns all stored overrides.
func (s *Store) ListConfigOverrides(ctx context.Context) (map[string]string, error) {
	rows, err := s.q.Query(ctx,
		`SELECT config_key, config_value FROM runtime_config_overrides`)
	if err != nil {
		return nil, fmt.Errorf("failed to list config overrides: %w", err)
	}
	defer rows.Close()

	overrides := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan config override: %w", err)
		}
		overrides[k] = v
	}
	return overrides, rows.Err()
}

// UpsertConfigOverride writes one override. Callers wanting the previous
// value for auditing read it first inside the same WithTx.
func (s *Store) UpsertConfigOverride(ctx context.Context, key, value string) error {
	if _, err := s.q.Exec(ctx, `
		INSERT INTO runtime_config_overrides (config_key, config_value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (config_key) DO UPDATE
		SET config_value = EXCLUDED.config_value, updated_at = now()`,
		key, value); err != nil {
		return fmt.Errorf("failed to upsert config override %s: %w", key, err)
	}
	return nil
}

// RecordConfigChange appends one audit row.
func (s *Store) RecordConfigChange(ctx context.Context, c *models.ConfigChange) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO admin_config_changes (config_key, old_value, new_value, changed_by, environment, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		c.ConfigKey, c.OldValue, c.NewValue, c.ChangedBy, c.Environment, c.Reason).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record config change: %w", err)
	}
	return nil
}

// ListConfigChanges returns the audit trail for one key, newest first.
func (s *Store) ListConfigChanges(ctx context.Context, key string, limit int) ([]*models.ConfigChange, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, config_key, old_value, new_value, changed_by, environment, reason, created_at
		FROM admin_config_changes
		WHERE config_key = $1
		ORDER BY created_at DESC
		LIMIT $2`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list config changes for %s: %w", key, err)
	}
	defer rows.Close()

	var changes []*models.ConfigChange
	for rows.Next() {
		var c models.ConfigChange
		if err := rows.Scan(&c.ID, &c.ConfigKey, &c.OldValue, &c.NewValue,
			&c.ChangedBy, &c.Environment, &c.Reason, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan config change: %w", err)
		}
		changes = append(changes, &c)
	}
	return changes, rows.Err()
}
