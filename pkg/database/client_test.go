package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestClient creates a test database client with CI/local environment detection.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("polis_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = pgContainer.Terminate(context.Background())
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	// Each test gets its own schema so parallel packages sharing a CI
	// database never collide.
	schemaName := fmt.Sprintf("dbtest_%d", time.Now().UnixNano())

	adminPool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	_, err = adminPool.Exec(ctx, "CREATE SCHEMA "+schemaName)
	require.NoError(t, err)
	adminPool.Close()

	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	scoped := connStr + sep + "search_path=" + schemaName

	require.NoError(t, MigrateDSN(scoped))

	poolCfg, err := pgxpool.ParseConfig(scoped)
	require.NoError(t, err)
	poolCfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	require.NoError(t, err)

	client := NewClientFromPool(pool, DefaultConfig())
	t.Cleanup(func() {
		dropCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(dropCtx, "DROP SCHEMA IF EXISTS "+schemaName+" CASCADE")
		client.Close()
	})

	return client
}

func TestClientPingAndHealth(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, int32(10), health.MaxConns)
	assert.GreaterOrEqual(t, health.Utilization, 0.0)
	assert.LessOrEqual(t, health.Utilization, 1.0)
}

func TestMigrationsCreateSchema(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	// Spot-check the tables each subsystem depends on.
	for _, table := range []string{
		"agents", "agent_inventories", "global_resources", "messages",
		"events", "transactions", "agent_actions", "agent_memories",
		"proposals", "votes", "laws", "enforcements", "enforcement_votes",
		"llm_usage", "runtime_config_overrides", "admin_config_changes",
		"emergence_metric_snapshots", "simulation_runs", "season_snapshots",
		"agent_lineages", "run_report_artifacts",
	} {
		var count int
		err := client.Pool().QueryRow(ctx,
			"SELECT count(*) FROM "+table+" WHERE false").Scan(&count)
		require.NoError(t, err, "table %s should exist", table)
	}

	// The world starts with the seeded commons row.
	var food, energy, materials int
	err := client.Pool().QueryRow(ctx,
		"SELECT food, energy, materials FROM global_resources WHERE id = 1").
		Scan(&food, &energy, &materials)
	require.NoError(t, err)
	assert.Equal(t, 1000, food)
	assert.Equal(t, 1000, energy)
	assert.Equal(t, 1000, materials)
}

func TestMigrationsRecordVersion(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	var version int64
	var dirty bool
	err := client.Pool().QueryRow(ctx,
		"SELECT version, dirty FROM schema_migrations").Scan(&version, &dirty)
	require.NoError(t, err)
	assert.Greater(t, version, int64(0))
	assert.False(t, dirty)
}

func TestPoolUtilization(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	// Idle pool reports low utilization.
	assert.Less(t, client.PoolUtilization(), 0.5)

	// Holding connections raises it.
	conn1, err := client.Pool().Acquire(ctx)
	require.NoError(t, err)
	defer conn1.Release()
	conn2, err := client.Pool().Acquire(ctx)
	require.NoError(t, err)
	defer conn2.Release()

	assert.GreaterOrEqual(t, client.PoolUtilization(), 0.2)
}

func TestDSN(t *testing.T) {
	cfg := Config{
		Host:     "db.internal",
		Port:     5433,
		User:     "polis",
		Password: "secret",
		Database: "polis",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=polis password=secret dbname=polis sslmode=require",
		cfg.DSN())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 30, cfg.MaxConns)
	assert.Equal(t, 30*time.Second, cfg.AcquireTimeout)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "pg.example.com")
	t.Setenv("DB_PORT", "6432")
	t.Setenv("DB_USER", "simulation")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "worlds")
	t.Setenv("DB_SSLMODE", "disable")
	t.Setenv("DB_POOL_SIZE", "5")
	t.Setenv("DB_MAX_CONNS", "12")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "pg.example.com", cfg.Host)
	assert.Equal(t, 6432, cfg.Port)
	assert.Equal(t, "simulation", cfg.User)
	assert.Equal(t, "pw", cfg.Password)
	assert.Equal(t, "worlds", cfg.Database)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 5, cfg.PoolSize)
	assert.Equal(t, 12, cfg.MaxConns)
}

func TestHealthStatusJSON(t *testing.T) {
	h := HealthStatus{
		Status:       "healthy",
		ResponseTime: 12,
		MaxConns:     30,
	}
	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"healthy"`)
}
