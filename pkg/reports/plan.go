package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/season"
)

// NextRunPlan is the next_run_plan_v1 document: the recommended parameters
// for the run that follows the parent. Recommendations come straight from
// the parent's registry row and the population as it stands; the operator
// edits what the next experiment actually needs.
type NextRunPlan struct {
	GeneratedAt     time.Time       `json:"generated_at"`
	ParentRunID     string          `json:"parent_run_id"`
	RunMode         models.RunMode  `json:"run_mode"`
	RunClass        models.RunClass `json:"run_class"`
	ProtocolVersion string          `json:"protocol_version"`
	SeasonID        string          `json:"season_id"`
	SeasonNumber    int             `json:"season_number"`
	MirrorControl   bool            `json:"pair_with_mirror_control"`
	Seed            RecommendedSeed `json:"seed"`
}

// RecommendedSeed mirrors the season seed request, precomputed from the
// parent run's surviving population.
type RecommendedSeed struct {
	SeasonID          string `json:"season_id"`
	ParentRunID       string `json:"parent_run_id"`
	PolicyVersion     string `json:"transfer_policy_version"`
	TargetAgentCount  int    `json:"target_agent_count"`
	CarryPassedLaws   bool   `json:"carry_passed_laws"`
	ExpectedCarryover int    `json:"expected_carryover"`
	ExpectedFresh     int    `json:"expected_fresh"`
}

// GenerateNextRunPlan builds the next_run_plan_v1 pair for one run and
// registers it. Unknown runs return store.ErrNotFound.
func (s *Service) GenerateNextRunPlan(ctx context.Context, runID string) (*models.RunReportArtifact, error) {
	plan, err := s.buildNextRunPlan(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.writePair(ctx, s.runDir(runID), "next_run_plan", runID,
		ArtifactNextRunPlanV1, plan, nextRunPlanMarkdown(plan))
}

func (s *Service) buildNextRunPlan(ctx context.Context, runID string) (*NextRunPlan, error) {
	run, err := s.store.GetSimulationRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	seasonNumber := 1
	if run.SeasonNumber != nil {
		seasonNumber = *run.SeasonNumber + 1
	}
	seasonID := fmt.Sprintf("season-%03d", seasonNumber)

	survivors, err := s.store.ListSurvivors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list survivors: %w", err)
	}
	target := s.cfg.Simulation.PopulationSize
	carryover := min(len(survivors), target)

	_, lawsActive, err := s.store.CountLaws(ctx)
	if err != nil {
		return nil, err
	}

	return &NextRunPlan{
		GeneratedAt:     s.clock.Now().UTC(),
		ParentRunID:     run.RunID,
		RunMode:         run.RunMode,
		RunClass:        run.RunClass,
		ProtocolVersion: run.ProtocolVersion,
		SeasonID:        seasonID,
		SeasonNumber:    seasonNumber,
		MirrorControl:   run.MirrorControlRunID != nil,
		Seed: RecommendedSeed{
			SeasonID:          seasonID,
			ParentRunID:       run.RunID,
			PolicyVersion:     season.TransferPolicyCarryoverV1,
			TargetAgentCount:  target,
			CarryPassedLaws:   lawsActive > 0,
			ExpectedCarryover: carryover,
			ExpectedFresh:     target - carryover,
		},
	}, nil
}

func nextRunPlanMarkdown(p *NextRunPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Next run plan after %s\n\n", p.ParentRunID)
	fmt.Fprintf(&b, "Generated %s.\n\n", p.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(&b, "## Run parameters\n\n")
	fmt.Fprintf(&b, "- Mode: %s\n", p.RunMode)
	fmt.Fprintf(&b, "- Class: %s\n", p.RunClass)
	fmt.Fprintf(&b, "- Protocol: %s\n", p.ProtocolVersion)
	fmt.Fprintf(&b, "- Season: %s (number %d)\n", p.SeasonID, p.SeasonNumber)
	if p.MirrorControl {
		fmt.Fprintf(&b, "- Pair with a mirror control run, as the parent was\n")
	}

	fmt.Fprintf(&b, "\n## Seed\n\n")
	fmt.Fprintf(&b, "```\npolisctl seed-next-season --season-id %s --parent-run-id %s --transfer-policy-version %s --target-agent-count %d",
		p.Seed.SeasonID, p.Seed.ParentRunID, p.Seed.PolicyVersion, p.Seed.TargetAgentCount)
	if p.Seed.CarryPassedLaws {
		fmt.Fprintf(&b, " --carry-passed-laws")
	}
	fmt.Fprintf(&b, " --confirm\n```\n\n")
	fmt.Fprintf(&b, "- Expected carryover: %d\n", p.Seed.ExpectedCarryover)
	fmt.Fprintf(&b, "- Expected fresh: %d\n", p.Seed.ExpectedFresh)
	return b.String()
}
