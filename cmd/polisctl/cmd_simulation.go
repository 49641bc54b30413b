package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polis-labs/polis/pkg/runtimeconfig"
)

var (
	simRunID  string
	simReason string
)

// simulationStatus is the JSON shape printed by simulation-control status.
type simulationStatus struct {
	Status       string `json:"status"`
	CurrentRunID string `json:"current_run_id,omitempty"`
	PauseReason  string `json:"pause_reason,omitempty"`
}

var simulationControlCmd = &cobra.Command{
	Use:   "simulation-control {start|stop|status}",
	Short: "Start, stop, or inspect the simulation",
	Long: `start flips SIMULATION_ACTIVE on and clears any guardrail pause.
stop flips SIMULATION_ACTIVE off but leaves a pause and its reason in place,
so the pause trail survives a manual stop. status reports the effective
state. Every change lands in the runtime config audit table.`,
	Args: cobra.ArbitraryArgs,
	RunE: runSimulationControl,
}

func init() {
	simulationControlCmd.Flags().StringVar(&simRunID, "run-id",
		"", "Run id to record on start")
	simulationControlCmd.Flags().StringVar(&simReason, "reason",
		"", "Audit reason for the change")
}

func runSimulationControl(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return usageErrorf("simulation-control takes exactly one verb: start, stop, or status")
	}
	verb := args[0]
	switch verb {
	case "start", "stop", "status":
	default:
		return usageErrorf("unknown verb %q: want start, stop, or status", verb)
	}

	ctx := cmd.Context()
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	switch verb {
	case "start":
		updates := map[string]string{
			runtimeconfig.KeySimulationActive: "true",
			runtimeconfig.KeySimulationPaused: "false",
			runtimeconfig.KeyPauseReason:      "",
		}
		if simRunID != "" {
			updates[runtimeconfig.KeyCurrentRunID] = simRunID
		}
		if err := env.runtime.UpdateSettings(ctx, updates, "polisctl", reasonOr("manual start")); err != nil {
			return err
		}
		fmt.Println("simulation started")
		return nil

	case "stop":
		updates := map[string]string{
			runtimeconfig.KeySimulationActive: "false",
		}
		if err := env.runtime.UpdateSettings(ctx, updates, "polisctl", reasonOr("manual stop")); err != nil {
			return err
		}
		fmt.Println("simulation stopped")
		return nil

	default:
		return printSimulationStatus(ctx, env)
	}
}

func reasonOr(fallback string) string {
	if simReason != "" {
		return simReason
	}
	return fallback
}

func printSimulationStatus(ctx context.Context, env *cliEnv) error {
	active, err := env.runtime.Bool(ctx, runtimeconfig.KeySimulationActive)
	if err != nil {
		return err
	}
	paused, err := env.runtime.Bool(ctx, runtimeconfig.KeySimulationPaused)
	if err != nil {
		return err
	}
	runID, err := env.runtime.String(ctx, runtimeconfig.KeyCurrentRunID)
	if err != nil {
		return err
	}
	pauseReason, err := env.runtime.String(ctx, runtimeconfig.KeyPauseReason)
	if err != nil {
		return err
	}

	status := simulationStatus{Status: "stopped", CurrentRunID: runID}
	switch {
	case paused:
		status.Status = "paused"
		status.PauseReason = pauseReason
	case active:
		status.Status = "running"
	}
	return printJSON(status)
}
