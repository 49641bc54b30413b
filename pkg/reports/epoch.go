package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/season"
)

// EpochReport is the epoch_report_v1 document.
type EpochReport struct {
	GeneratedAt   time.Time              `json:"generated_at"`
	EpochID       string                 `json:"epoch_id"`
	PolicyVersion string                 `json:"score_policy_version"`
	SeasonCount   int                    `json:"season_count"`
	Champions     []models.EpochChampion `json:"champions"`
}

// WriteEpochReport persists a tournament outcome as an epoch_report_v1
// pair. Epoch ids must be UUIDs: the artifact registry keys every row by a
// UUID owner, run and epoch alike.
func (s *Service) WriteEpochReport(ctx context.Context, epochID string, champions []models.EpochChampion) (*models.RunReportArtifact, error) {
	if _, err := uuid.Parse(epochID); err != nil {
		return nil, fmt.Errorf("epoch id must be a UUID: %w", err)
	}
	if champions == nil {
		champions = []models.EpochChampion{}
	}

	seasons := map[string]struct{}{}
	for _, c := range champions {
		seasons[c.SeasonID] = struct{}{}
	}

	report := &EpochReport{
		GeneratedAt:   s.clock.Now().UTC(),
		EpochID:       epochID,
		PolicyVersion: season.ScorePolicyV1,
		SeasonCount:   len(seasons),
		Champions:     champions,
	}
	return s.writePair(ctx, s.epochDir(epochID), "epoch_report", epochID,
		ArtifactEpochReportV1, report, epochReportMarkdown(report))
}

func epochReportMarkdown(r *EpochReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Epoch report: %s\n\n", r.EpochID)
	fmt.Fprintf(&b, "Scored with %s across %d seasons. Generated %s.\n\n",
		r.PolicyVersion, r.SeasonCount, r.GeneratedAt.Format(time.RFC3339))

	if len(r.Champions) == 0 {
		fmt.Fprintf(&b, "No champions selected.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "| Season | Rank | Agent | Name | Score |\n|---|---|---|---|---|\n")
	for _, c := range r.Champions {
		fmt.Fprintf(&b, "| %s | %d | %d | %s | %.2f |\n",
			c.SeasonID, c.Rank, c.AgentNumber, c.DisplayName, c.Score)
	}
	return b.String()
}
