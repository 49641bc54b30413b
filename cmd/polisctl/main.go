// polisctl is the operations CLI for the polis simulation engine: simulation
// control, season snapshots and transfer, epoch tournaments, report exports.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/polis-labs/polis/pkg/config"
	"github.com/polis-labs/polis/pkg/database"
	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/season"
	"github.com/polis-labs/polis/pkg/store"
	"github.com/polis-labs/polis/pkg/version"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "polisctl",
	Short: "Operations CLI for the polis simulation engine",
	Long: `polisctl manages a polis deployment: start and stop the simulation,
export season snapshots, seed the next season, run epoch tournaments, and
rebuild report artifacts.

Commands talk to the same PostgreSQL database as polisd, configured through
the same environment (DB_HOST, DB_PORT, ...) and config directory.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return usageErrorf("unknown command %q for %q", args[0], cmd.CommandPath())
	},
}

// usageError marks operator input problems: bad flags, missing arguments,
// unknown verbs. main maps it to exit code 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// noArgs rejects positional arguments on flag-only commands.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageErrorf("unexpected argument %q for %q", args[0], cmd.CommandPath())
	}
	return nil
}

// exitCode distinguishes operator mistakes (2) from operational failures
// (1). Sentinels cover input the CLI cannot pre-validate: unknown ids, a
// missing --confirm, seeding while the simulation runs.
func exitCode(err error) int {
	var usage usageError
	if errors.As(err, &usage) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrDuplicate) ||
		errors.Is(err, season.ErrConfirmRequired) ||
		errors.Is(err, season.ErrSimulationActive) {
		return 2
	}
	return 1
}

// cliEnv bundles the handles every subcommand needs.
type cliEnv struct {
	cfg     *config.Config
	db      *database.Client
	store   *store.Store
	clock   identity.Clock
	runtime *runtimeconfig.Service
}

func (e *cliEnv) Close() { e.db.Close() }

// openEnv loads configuration and connects to the database. Migrations are
// polisd's job; the CLI only expects the schema to already exist.
func openEnv(ctx context.Context) (*cliEnv, error) {
	// Missing .env is normal outside local development.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load database config: %w", err)
	}
	db, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	st := store.New(db.Pool())
	clock := identity.WallClock{}
	return &cliEnv{
		cfg:     cfg,
		db:      db,
		store:   st,
		clock:   clock,
		runtime: runtimeconfig.NewService(st, cfg, clock),
	}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	rootCmd.AddCommand(simulationControlCmd)
	rootCmd.AddCommand(exportSeasonSnapshotCmd)
	rootCmd.AddCommand(seedNextSeasonCmd)
	rootCmd.AddCommand(selectEpochChampionsCmd)
	rootCmd.AddCommand(exportRunReportCmd)
	rootCmd.AddCommand(generateNextRunPlanCmd)
	rootCmd.AddCommand(rebuildRunBundleCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintf(os.Stderr, "Run '%s --help' for usage.\n", rootCmd.Name())
		}
		os.Exit(exitCode(err))
	}
}
