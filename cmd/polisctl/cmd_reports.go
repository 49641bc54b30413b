package main

import (
	"github.com/spf13/cobra"

	"github.com/polis-labs/polis/pkg/reports"
)

var (
	reportRunID string
	planRunID   string
	bundleRunID string
)

var exportRunReportCmd = &cobra.Command{
	Use:   "export-run-report",
	Short: "Write the retrospective report for a run",
	Long: `Builds the run report (population outcomes, economy, governance,
budget) and writes it under the reports output directory as a JSON and
markdown pair, registered as a run artifact.`,
	Args: noArgs,
	RunE: runExportRunReport,
}

var generateNextRunPlanCmd = &cobra.Command{
	Use:   "generate-next-run-plan",
	Short: "Derive tuning recommendations for the next run",
	Args:  noArgs,
	RunE:  runGenerateNextRunPlan,
}

var rebuildRunBundleCmd = &cobra.Command{
	Use:   "rebuild-run-bundle",
	Short: "Regenerate every report artifact for a run",
	Args:  noArgs,
	RunE:  runRebuildRunBundle,
}

func init() {
	exportRunReportCmd.Flags().StringVar(&reportRunID, "run-id",
		"", "Run to report on (required)")
	generateNextRunPlanCmd.Flags().StringVar(&planRunID, "run-id",
		"", "Run the plan derives from (required)")
	rebuildRunBundleCmd.Flags().StringVar(&bundleRunID, "run-id",
		"", "Run to rebuild artifacts for (required)")
}

func runExportRunReport(cmd *cobra.Command, args []string) error {
	if reportRunID == "" {
		return usageErrorf("--run-id is required")
	}

	ctx := cmd.Context()
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	artifact, err := reports.NewService(env.store, env.cfg, env.clock).ExportRunReport(ctx, reportRunID)
	if err != nil {
		return err
	}
	return printJSON(artifact)
}

func runGenerateNextRunPlan(cmd *cobra.Command, args []string) error {
	if planRunID == "" {
		return usageErrorf("--run-id is required")
	}

	ctx := cmd.Context()
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	artifact, err := reports.NewService(env.store, env.cfg, env.clock).GenerateNextRunPlan(ctx, planRunID)
	if err != nil {
		return err
	}
	return printJSON(artifact)
}

func runRebuildRunBundle(cmd *cobra.Command, args []string) error {
	if bundleRunID == "" {
		return usageErrorf("--run-id is required")
	}

	ctx := cmd.Context()
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	artifacts, err := reports.NewService(env.store, env.cfg, env.clock).RebuildRunBundle(ctx, bundleRunID)
	if err != nil {
		return err
	}
	return printJSON(artifacts)
}
