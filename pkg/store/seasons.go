package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/polis-labs/polis/pkg/models"
)

// CreateSimulationRun registers a run.
func (s *Store) CreateSimulationRun(ctx context.Context, r *models.SimulationRun) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO simulation_runs (run_id, run_mode, run_class, protocol_version,
			season_id, season_number, transfer_policy_version,
			carryover_agent_count, fresh_agent_count, protocol_deviation,
			mirror_control_run_id, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.RunID, r.RunMode, r.RunClass, r.ProtocolVersion,
		r.SeasonID, r.SeasonNumber, r.TransferPolicyVersion,
		r.CarryoverAgentCount, r.FreshAgentCount, r.ProtocolDeviation,
		r.MirrorControlRunID, r.StartedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("run %s: %w", r.RunID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create simulation run: %w", err)
	}
	return nil
}

const runColumns = `run_id, run_mode, run_class, protocol_version, season_id, season_number,
	transfer_policy_version, carryover_agent_count, fresh_agent_count,
	protocol_deviation, mirror_control_run_id, started_at, ended_at`

func scanRun(row pgx.Row) (*models.SimulationRun, error) {
	var r models.SimulationRun
	err := row.Scan(&r.RunID, &r.RunMode, &r.RunClass, &r.ProtocolVersion,
		&r.SeasonID, &r.SeasonNumber, &r.TransferPolicyVersion,
		&r.CarryoverAgentCount, &r.FreshAgentCount,
		&r.ProtocolDeviation, &r.MirrorControlRunID, &r.StartedAt, &r.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan simulation run: %w", err)
	}
	return &r, nil
}

// GetSimulationRun returns one run by id.
func (s *Store) GetSimulationRun(ctx context.Context, runID string) (*models.SimulationRun, error) {
	row := s.q.QueryRow(ctx, `SELECT `+runColumns+` FROM simulation_runs WHERE run_id = $1`, runID)
	return scanRun(row)
}

// ListRunsBySeason returns a season's runs ordered by start time.
func (s *Store) ListRunsBySeason(ctx context.Context, seasonID string) ([]*models.SimulationRun, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+runColumns+` FROM simulation_runs WHERE season_id = $1 ORDER BY started_at`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for season %s: %w", seasonID, err)
	}
	defer rows.Close()

	var runs []*models.SimulationRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// EndSimulationRun stamps the run's end time.
func (s *Store) EndSimulationRun(ctx context.Context, runID string, endedAt time.Time) error {
	if _, err := s.q.Exec(ctx,
		`UPDATE simulation_runs SET ended_at = $2 WHERE run_id = $1`, runID, endedAt); err != nil {
		return fmt.Errorf("failed to end simulation run %s: %w", runID, err)
	}
	return nil
}

// CreateSeasonSnapshot persists one snapshot payload. Duplicate
// (run, snapshot_type) pairs return ErrDuplicate; unknown runs surface the
// foreign key violation as ErrNotFound.
func (s *Store) CreateSeasonSnapshot(ctx context.Context, snap *models.SeasonSnapshot) error {
	payload, err := json.Marshal(snap.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot payload: %w", err)
	}
	err = s.q.QueryRow(ctx, `
		INSERT INTO season_snapshots (run_id, snapshot_type, payload)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		snap.RunID, snap.SnapshotType, payload).
		Scan(&snap.ID, &snap.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("snapshot %s for run %s: %w", snap.SnapshotType, snap.RunID, ErrDuplicate)
		}
		if IsForeignKeyViolation(err) {
			return fmt.Errorf("run %s: %w", snap.RunID, ErrNotFound)
		}
		return fmt.Errorf("failed to create season snapshot: %w", err)
	}
	return nil
}

// GetSeasonSnapshot returns one snapshot by run and type.
func (s *Store) GetSeasonSnapshot(ctx context.Context, runID, snapshotType string) (*models.SeasonSnapshot, error) {
	var snap models.SeasonSnapshot
	var payload []byte
	err := s.q.QueryRow(ctx, `
		SELECT id, run_id, snapshot_type, payload, created_at
		FROM season_snapshots WHERE run_id = $1 AND snapshot_type = $2`,
		runID, snapshotType).
		Scan(&snap.ID, &snap.RunID, &snap.SnapshotType, &payload, &snap.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get season snapshot: %w", err)
	}
	if err := json.Unmarshal(payload, &snap.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot payload: %w", err)
	}
	return &snap, nil
}

// CreateLineage records how one agent entered a season. Duplicate
// (season, child) pairs return ErrDuplicate.
func (s *Store) CreateLineage(ctx context.Context, l *models.AgentLineage) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO agent_lineages (season_id, child_agent_number, parent_agent_number, origin)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		l.SeasonID, l.ChildAgentNumber, l.ParentAgentNumber, l.Origin).
		Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("lineage for agent %d in season %s: %w",
				l.ChildAgentNumber, l.SeasonID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create lineage: %w", err)
	}
	return nil
}

// ListSeasonIDs returns every season that has lineage rows, sorted. The
// epoch tournament iterates seasons through this.
func (s *Store) ListSeasonIDs(ctx context.Context) ([]string, error) {
	rows, err := s.q.Query(ctx,
		`SELECT DISTINCT season_id FROM agent_lineages ORDER BY season_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list season ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan season id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListLineageBySeason returns a season's lineage rows ordered by child.
func (s *Store) ListLineageBySeason(ctx context.Context, seasonID string) ([]*models.AgentLineage, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, season_id, child_agent_number, parent_agent_number, origin, created_at
		FROM agent_lineages WHERE season_id = $1 ORDER BY child_agent_number`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lineage for season %s: %w", seasonID, err)
	}
	defer rows.Close()

	var lineages []*models.AgentLineage
	for rows.Next() {
		var l models.AgentLineage
		if err := rows.Scan(&l.ID, &l.SeasonID, &l.ChildAgentNumber,
			&l.ParentAgentNumber, &l.Origin, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lineage: %w", err)
		}
		lineages = append(lineages, &l)
	}
	return lineages, rows.Err()
}

// RecordReportArtifact registers an exported report pair.
func (s *Store) RecordReportArtifact(ctx context.Context, a *models.RunReportArtifact) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO run_report_artifacts (run_id, artifact_type, path_json, path_markdown)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		a.RunID, a.ArtifactType, a.PathJSON, a.PathMarkdown).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record report artifact: %w", err)
	}
	return nil
}

// ListReportArtifacts returns a run's registered artifacts.
func (s *Store) ListReportArtifacts(ctx context.Context, runID string) ([]*models.RunReportArtifact, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, run_id, artifact_type, path_json, path_markdown, created_at
		FROM run_report_artifacts WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list report artifacts for %s: %w", runID, err)
	}
	defer rows.Close()

	var artifacts []*models.RunReportArtifact
	for rows.Next() {
		var a models.RunReportArtifact
		if err := rows.Scan(&a.ID, &a.RunID, &a.ArtifactType,
			&a.PathJSON, &a.PathMarkdown, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report artifact: %w", err)
		}
		artifacts = append(artifacts, &a)
	}
	return artifacts, rows.Err()
}
