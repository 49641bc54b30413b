// Package reports exports the operator-facing artifacts of a run: a JSON
// document plus a markdown rendering written side by side under the
// configured output directory and registered in the artifact table. The
// registry is append-only; rebuilding a bundle rewrites the files in place
// and appends fresh registry rows, so the newest row for a type is the
// current one.
package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/polis-labs/polis/pkg/config"
	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/store"
)

// Artifact type labels for registered pairs.
const (
	ArtifactRunReportV1   = "run_report_v1"
	ArtifactNextRunPlanV1 = "next_run_plan_v1"
	ArtifactEpochReportV1 = "epoch_report_v1"
)

// Service builds report documents from the store and writes them out.
type Service struct {
	store *store.Store
	cfg   *config.Config
	clock identity.Clock
	log   *slog.Logger
}

// NewService wires report generation over the store.
func NewService(st *store.Store, cfg *config.Config, clock identity.Clock) *Service {
	return &Service{
		store: st,
		cfg:   cfg,
		clock: clock,
		log:   slog.With("component", "reports"),
	}
}

// RebuildRunBundle regenerates every artifact pair for one run: the run
// report and the next-run plan.
func (s *Service) RebuildRunBundle(ctx context.Context, runID string) ([]*models.RunReportArtifact, error) {
	report, err := s.ExportRunReport(ctx, runID)
	if err != nil {
		return nil, err
	}
	plan, err := s.GenerateNextRunPlan(ctx, runID)
	if err != nil {
		return nil, err
	}
	return []*models.RunReportArtifact{report, plan}, nil
}

func (s *Service) runDir(runID string) string {
	return filepath.Join(s.cfg.Reports.OutputDir, "reports", "runs", runID)
}

func (s *Service) epochDir(epochID string) string {
	return filepath.Join(s.cfg.Reports.OutputDir, "reports", "epochs", epochID)
}

// writePair writes doc as indented JSON next to its markdown rendering and
// registers the pair. ownerID keys the registry row: the run id for run
// artifacts, the epoch id for epoch artifacts.
func (s *Service) writePair(ctx context.Context, dir, name, ownerID, artifactType string, doc any, markdown string) (*models.RunReportArtifact, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", artifactType, err)
	}
	data = append(data, '\n')

	pathJSON := filepath.Join(dir, name+".json")
	if err := os.WriteFile(pathJSON, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", pathJSON, err)
	}
	pathMarkdown := filepath.Join(dir, name+".md")
	if err := os.WriteFile(pathMarkdown, []byte(markdown), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", pathMarkdown, err)
	}

	artifact := &models.RunReportArtifact{
		RunID:        ownerID,
		ArtifactType: artifactType,
		PathJSON:     pathJSON,
		PathMarkdown: pathMarkdown,
	}
	if err := s.store.RecordReportArtifact(ctx, artifact); err != nil {
		return nil, err
	}

	s.log.Info("report artifact written",
		"artifact_type", artifactType, "owner", ownerID, "path", pathJSON)
	return artifact, nil
}
