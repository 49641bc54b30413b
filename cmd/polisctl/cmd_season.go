package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/reports"
	"github.com/polis-labs/polis/pkg/season"
)

var (
	snapshotRunID  string
	snapshotType   string
	snapshotDryRun bool

	seedSeasonID      string
	seedParentRunID   string
	seedPolicyVersion string
	seedTargetCount   int
	seedCarryLaws     bool
	seedDryRun        bool
	seedConfirm       bool

	epochID        string
	epochSeasonIDs []string
	epochPerSeason int
	epochMaxTotal  int
)

// epochResult is the JSON shape printed by select-epoch-champions.
type epochResult struct {
	EpochID   string                    `json:"epoch_id"`
	Champions []models.EpochChampion    `json:"champions"`
	Report    *models.RunReportArtifact `json:"report"`
}

var exportSeasonSnapshotCmd = &cobra.Command{
	Use:   "export-season-snapshot",
	Short: "Serialize the surviving population for season transfer",
	Args:  noArgs,
	RunE:  runExportSeasonSnapshot,
}

var seedNextSeasonCmd = &cobra.Command{
	Use:   "seed-next-season",
	Short: "Seed the next season from a parent run's survivors",
	Long: `Plans one season transfer under the given policy version and, with
--confirm, applies it: carryover rows for survivors, fresh agents for the
remaining slots, lineage rows for both, and optionally copied passed laws.
--dry-run prints the plan without writing anything; under identical inputs
the printed plan is byte-equal to what a real seed would apply.`,
	Args: noArgs,
	RunE: runSeedNextSeason,
}

var selectEpochChampionsCmd = &cobra.Command{
	Use:   "select-epoch-champions",
	Short: "Rank seasons under the epoch score and write the epoch report",
	Args:  noArgs,
	RunE:  runSelectEpochChampions,
}

func init() {
	exportSeasonSnapshotCmd.Flags().StringVar(&snapshotRunID, "run-id",
		"", "Run the snapshot belongs to (required)")
	exportSeasonSnapshotCmd.Flags().StringVar(&snapshotType, "snapshot-type",
		models.SnapshotTypeSurvivorsV1, "Snapshot payload type")
	exportSeasonSnapshotCmd.Flags().BoolVar(&snapshotDryRun, "dry-run",
		false, "Print the snapshot without persisting it")

	seedNextSeasonCmd.Flags().StringVar(&seedSeasonID, "season-id",
		"", "New season id (required)")
	seedNextSeasonCmd.Flags().StringVar(&seedParentRunID, "parent-run-id",
		"", "Run the survivors come from (required)")
	seedNextSeasonCmd.Flags().StringVar(&seedPolicyVersion, "transfer-policy-version",
		"", "Transfer policy version (required), e.g. "+season.TransferPolicyCarryoverV1)
	seedNextSeasonCmd.Flags().IntVar(&seedTargetCount, "target-agent-count",
		0, "Population size for the new season (0 = configured population size)")
	seedNextSeasonCmd.Flags().BoolVar(&seedCarryLaws, "carry-passed-laws",
		false, "Copy passed laws into the new season")
	seedNextSeasonCmd.Flags().BoolVar(&seedDryRun, "dry-run",
		false, "Print the seed plan without applying it")
	seedNextSeasonCmd.Flags().BoolVar(&seedConfirm, "confirm",
		false, "Apply the seed plan")

	selectEpochChampionsCmd.Flags().StringVar(&epochID, "epoch-id",
		"", "Epoch id (default: a fresh UUID)")
	selectEpochChampionsCmd.Flags().StringSliceVar(&epochSeasonIDs, "season-id",
		nil, "Season to include, repeatable (default: all seasons)")
	selectEpochChampionsCmd.Flags().IntVar(&epochPerSeason, "champions-per-season",
		0, "Champions kept per season (0 = policy default)")
	selectEpochChampionsCmd.Flags().IntVar(&epochMaxTotal, "max-champions",
		0, "Cap on the combined champion list (0 = no cap)")
}

func runExportSeasonSnapshot(cmd *cobra.Command, args []string) error {
	if snapshotRunID == "" {
		return usageErrorf("--run-id is required")
	}
	if snapshotType != models.SnapshotTypeSurvivorsV1 {
		return usageErrorf("unsupported snapshot type %q (supported: %s)",
			snapshotType, models.SnapshotTypeSurvivorsV1)
	}

	ctx := cmd.Context()
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	svc := season.NewService(env.store, env.cfg, env.runtime, env.clock)
	snap, err := svc.ExportSeasonSnapshot(ctx, snapshotRunID, snapshotType, snapshotDryRun)
	if err != nil {
		return err
	}
	return printJSON(snap)
}

func runSeedNextSeason(cmd *cobra.Command, args []string) error {
	switch {
	case seedSeasonID == "":
		return usageErrorf("--season-id is required")
	case seedParentRunID == "":
		return usageErrorf("--parent-run-id is required")
	case seedPolicyVersion == "":
		return usageErrorf("--transfer-policy-version is required")
	case seedPolicyVersion != season.TransferPolicyCarryoverV1:
		return usageErrorf("unknown transfer policy version %q (supported: %s)",
			seedPolicyVersion, season.TransferPolicyCarryoverV1)
	case seedDryRun && seedConfirm:
		return usageErrorf("--dry-run and --confirm are mutually exclusive")
	}

	ctx := cmd.Context()
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	svc := season.NewService(env.store, env.cfg, env.runtime, env.clock)
	plan, err := svc.SeedNextSeason(ctx, season.SeedRequest{
		SeasonID:         seedSeasonID,
		ParentRunID:      seedParentRunID,
		PolicyVersion:    seedPolicyVersion,
		TargetAgentCount: seedTargetCount,
		CarryPassedLaws:  seedCarryLaws,
		DryRun:           seedDryRun,
		Confirm:          seedConfirm,
	})
	if err != nil {
		return err
	}
	return printJSON(plan)
}

func runSelectEpochChampions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	id := epochID
	if id == "" {
		id = uuid.NewString()
	}

	svc := season.NewService(env.store, env.cfg, env.runtime, env.clock)
	champions, err := svc.SelectChampions(ctx, season.EpochRequest{
		EpochID:            id,
		SeasonIDs:          epochSeasonIDs,
		ChampionsPerSeason: epochPerSeason,
		MaxChampions:       epochMaxTotal,
	})
	if err != nil {
		return err
	}

	artifact, err := reports.NewService(env.store, env.cfg, env.clock).WriteEpochReport(ctx, id, champions)
	if err != nil {
		return err
	}
	return printJSON(epochResult{EpochID: id, Champions: champions, Report: artifact})
}
