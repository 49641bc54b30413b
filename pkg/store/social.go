package store

import (
	"context"
	"fmt"
	"time"

	"github.com/polis-labs/polis/pkg/models"
)

// CreateMessage appends one message row.
func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO messages (sender_agent_number, target_agent_number, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		m.SenderAgentNumber, m.TargetAgentNumber, m.Body).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListMessagesFor returns messages visible to an agent (direct or broadcast)
// created at or before cutoff, newest first, up to limit. The cutoff is how
// perception lag is applied: agents never see messages fresher than it.
func (s *Store) ListMessagesFor(ctx context.Context, agentNumber int, cutoff time.Time, limit int) ([]*models.Message, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, sender_agent_number, target_agent_number, body, created_at
		FROM messages
		WHERE (target_agent_number = $1 OR target_agent_number IS NULL)
		  AND created_at <= $2
		ORDER BY created_at DESC
		LIMIT $3`, agentNumber, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for agent %d: %w", agentNumber, err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SenderAgentNumber, &m.TargetAgentNumber, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// ListMessagesSince returns all messages created at or after since, oldest
// first. The coalition-churn metric reads a day's traffic through this.
func (s *Store) ListMessagesSince(ctx context.Context, since time.Time) ([]*models.Message, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, sender_agent_number, target_agent_number, body, created_at
		FROM messages
		WHERE created_at >= $1
		ORDER BY created_at`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages since %s: %w", since, err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SenderAgentNumber, &m.TargetAgentNumber, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}
