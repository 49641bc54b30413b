// Package store is the persistence layer: hand-written SQL over pgx against
// the schema in pkg/database/migrations. One Store instance wraps either the
// shared pool or, via WithTx, a single transaction, so engine executors can
// run multi-table writes atomically through the same methods.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when a unique constraint rejects a write,
	// e.g. a second vote on the same proposal by the same agent.
	ErrDuplicate = errors.New("duplicate entity")

	// ErrInsufficient is returned when a balance check or non-negativity
	// constraint rejects a resource movement.
	ErrInsufficient = errors.New("insufficient resources")
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx. Store
// methods run against whichever the Store was built with.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides all entity operations. Method groups live in the per-entity
// files of this package.
type Store struct {
	pool *pgxpool.Pool
	q    Querier
}

// New creates a Store over the shared pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

// WithTx runs fn with a Store bound to a single transaction. The transaction
// commits if fn returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(txStore *Store) error) error {
	if s.pool == nil {
		// Already transaction-bound; nested transactions are not used.
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Store{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgErrCode extracts the postgres error code, or "" for non-pg errors.
func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool { return pgErrCode(err) == "23505" }

// IsForeignKeyViolation reports whether err is a foreign key violation.
func IsForeignKeyViolation(err error) bool { return pgErrCode(err) == "23503" }

// IsCheckViolation reports whether err is a CHECK constraint violation.
func IsCheckViolation(err error) bool { return pgErrCode(err) == "23514" }

// IsIntegrityViolation reports whether err is any integrity-class (23xxx)
// postgres error. Executors map these to action validation failures.
func IsIntegrityViolation(err error) bool {
	code := pgErrCode(err)
	return len(code) == 5 && code[:2] == "23"
}
