package store

import (
	"context"
	"fmt"
	"time"

	"github.com/polis-labs/polis/pkg/models"
)

// AppendEvent writes one ledger row and fills in its assigned id. Events are
// append-only; nothing in the system updates or deletes them.
func (s *Store) AppendEvent(ctx context.Context, e *models.Event) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO events (event_type, agent_number, description, metadata, simulation_day)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		e.EventType, e.AgentNumber, e.Description, e.Metadata, e.SimulationDay).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

const eventColumns = `id, event_type, agent_number, description, metadata, simulation_day, created_at`

func (s *Store) queryEvents(ctx context.Context, where string, limitClause string, args ...any) ([]*models.Event, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE `+where+` ORDER BY id `+limitClause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.EventType, &e.AgentNumber, &e.Description,
			&e.Metadata, &e.SimulationDay, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// ListEventsSince returns events with id > sinceID in id order, up to limit.
// This is the stream poller's read: ids are monotonic, so a consumer that
// remembers its last seen id never misses or reorders.
func (s *Store) ListEventsSince(ctx context.Context, sinceID int64, limit int) ([]*models.Event, error) {
	return s.queryEvents(ctx, "id > $1", "LIMIT $2", sinceID, limit)
}

// ListEventsBetween returns events created in [from, to) in id order.
// Salience scoring reads checkpoint windows through this.
func (s *Store) ListEventsBetween(ctx context.Context, from, to time.Time) ([]*models.Event, error) {
	return s.queryEvents(ctx, "created_at >= $1 AND created_at < $2", "", from, to)
}

// ListEventsByDay returns one simulation day's events in id order.
func (s *Store) ListEventsByDay(ctx context.Context, day string) ([]*models.Event, error) {
	return s.queryEvents(ctx, "simulation_day = $1", "", day)
}

// LatestEventID returns the highest assigned event id, or 0 for an empty
// ledger. Stream subscribers start here.
func (s *Store) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.q.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM events`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to get latest event id: %w", err)
	}
	return id, nil
}

// CountEventsByTypeSince counts events of one type since a timestamp. The
// emergence metrics derive the conflict rate from enforcement events.
func (s *Store) CountEventsByTypeSince(ctx context.Context, eventType string, since time.Time) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM events
		WHERE event_type = $1 AND created_at >= $2`, eventType, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s events: %w", eventType, err)
	}
	return n, nil
}

// CountEventsByTypeBetween returns per-type event counts for one window,
// [from, to). Run reports read their activity breakdown through this.
func (s *Store) CountEventsByTypeBetween(ctx context.Context, from, to time.Time) (map[string]int, error) {
	rows, err := s.q.Query(ctx, `
		SELECT event_type, COUNT(*) FROM events
		WHERE created_at >= $1 AND created_at < $2 GROUP BY event_type`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by type: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var eventType string
		var n int
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event type count: %w", err)
		}
		counts[eventType] = n
	}
	return counts, rows.Err()
}
