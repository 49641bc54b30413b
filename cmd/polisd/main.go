// polisd runs the simulation daemon: the per-agent processor pool, the
// scheduler, the guardrail watcher, the event poller, and the admin HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/polis-labs/polis/pkg/api"
	"github.com/polis-labs/polis/pkg/budget"
	"github.com/polis-labs/polis/pkg/config"
	"github.com/polis-labs/polis/pkg/database"
	"github.com/polis-labs/polis/pkg/dispatch"
	"github.com/polis-labs/polis/pkg/events"
	"github.com/polis-labs/polis/pkg/guardrail"
	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/processor"
	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/scheduler"
	"github.com/polis-labs/polis/pkg/season"
	"github.com/polis-labs/polis/pkg/store"
	"github.com/polis-labs/polis/pkg/version"
)

// eventPollInterval is how often the poller tails the event ledger for the
// SSE fan-out. One second keeps streams near-live at the cost of a single
// indexed read per tick.
const eventPollInterval = time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting polisd",
		"version", version.Full(),
		"config_dir", *configDir)

	// SIGTERM/SIGINT cancel this context; every background loop descends
	// from it and drains before Run returns.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database and apply pending migrations
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	if err := database.RunMigrations(dbConfig); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	db, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Connected to PostgreSQL database",
		"host", dbConfig.Host, "database", dbConfig.Database)

	// 3. Initialize services
	st := store.New(db.Pool())
	clock := identity.WallClock{}
	runtime := runtimeconfig.NewService(st, cfg, clock)
	budgetSvc := budget.NewService(st, cfg.Models, runtime, clock)
	dispatcher := dispatch.NewDispatcher(ctx, st, cfg, runtime, budgetSvc, clock)
	guard := guardrail.NewService(st, budgetSvc, runtime, db, clock)
	pool := processor.NewPool(st, cfg, dispatcher, guard, runtime, clock)
	sched := scheduler.NewService(st, cfg, runtime, clock)
	broker := events.NewBroker(events.DefaultSubscriberBuffer)
	poller := events.NewPoller(st, broker, eventPollInterval)
	slog.Info("Services initialized",
		"providers", dispatcher.WiredProviders(),
		"models", cfg.Models.Len())

	// 4. Seed the genesis population. A database that already holds agents
	// is left untouched, so this is safe on every boot.
	seasonSvc := season.NewService(st, cfg, runtime, clock)
	genesisSeason := getEnv("GENESIS_SEASON_ID", "season-001")
	created, err := seasonSvc.SeedInitialPopulation(ctx, genesisSeason)
	if err != nil {
		slog.Error("Failed to seed initial population", "error", err)
		os.Exit(1)
	}
	if created > 0 {
		slog.Info("Seeded genesis population",
			"season_id", genesisSeason, "agents", created)
	}

	// 5. Create HTTP server
	server := api.NewServer(cfg, db, st, runtime, budgetSvc, broker, poller)
	server.SetProviders(dispatcher.WiredProviders())

	// 6. Run background loops under one lifetime. The first error (or the
	// signal context) cancels the group; each loop exits cleanly on cancel.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		interval := time.Duration(cfg.Guardrail.EvaluateIntervalSeconds) * time.Second
		return guard.Run(gctx, interval)
	})
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	slog.Info("polisd started successfully",
		"workers", cfg.Simulation.ProcessorWorkers,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port)

	// 7. Wait for shutdown signal or loop failure
	if err := g.Wait(); err != nil {
		slog.Error("Shutdown after error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
