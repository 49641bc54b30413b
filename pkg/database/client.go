// Package database provides the PostgreSQL pool and migration utilities.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
)

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings. PoolSize connections are kept warm;
	// the pool grows to MaxConns under load and callers time out after
	// AcquireTimeout when it is exhausted.
	PoolSize        int
	MaxConns        int
	AcquireTimeout  time.Duration
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns the production pool shape.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		SSLMode:         "prefer",
		PoolSize:        10,
		MaxConns:        30,
		AcquireTimeout:  30 * time.Second,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// DSN renders the keyword/value connection string shared by the pool and
// the migration connection.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Client wraps the pgx pool and exposes pool health to the guardrail.
type Client struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewClient opens the connection pool, verifies connectivity, and applies
// pending migrations.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MinConns = int32(cfg.PoolSize)
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	// Idle connections are re-pinged before reuse so a restarted postgres
	// does not surface as a burst of failed queries.
	poolCfg.HealthCheckPeriod = time.Minute
	poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(cfg); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{pool: pool, cfg: cfg}, nil
}

// NewClientFromPool wraps an existing pool (useful for testing against a
// schema that was migrated out of band).
func NewClientFromPool(pool *pgxpool.Pool, cfg Config) *Client {
	return &Client{pool: pool, cfg: cfg}
}

// Pool returns the underlying pgx pool for stores and health checks.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Ping verifies database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// PoolUtilization returns acquired/max as a 0..1 ratio. The guardrail
// samples this each evaluation cycle.
func (c *Client) PoolUtilization() float64 {
	stat := c.pool.Stat()
	maxConns := stat.MaxConns()
	if maxConns == 0 {
		return 0
	}
	return float64(stat.AcquiredConns()) / float64(maxConns)
}

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}
