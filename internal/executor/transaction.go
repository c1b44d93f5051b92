package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExecInTransaction runs fn inside a database transaction.
// On success the transaction is committed; on error it is rolled back.
func ExecInTransaction(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer tx.Rollback(ctx) //nolint:errcheck // rollback on committed tx returns ErrTxClosed

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// ExecWithoutTransaction executes SQL directly on the pool, outside any
// transaction. Required for statements like CREATE INDEX CONCURRENTLY
// which cannot run inside a transaction block.
func ExecWithoutTransaction(ctx context.Context, pool *pgxpool.Pool, sql string) error {
	_, err := pool.Exec(ctx, sql)
	if err != nil {
		return fmt.Errorf("executing outside transaction: %w", err)
	}

	return nil
}

// SetLockTimeout sets lock_timeout for the transaction so a migration fails
// fast instead of queueing behind application traffic. SET LOCAL reverts at
// commit or rollback, so pooled connections are not left with stale settings.
func SetLockTimeout(ctx context.Context, tx pgx.Tx, timeout time.Duration) error {
	sql := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())

	_, err := tx.Exec(ctx, sql)
	if err != nil {
		return fmt.Errorf("setting lock_timeout: %w", err)
	}

	return nil
}

// SetStatementTimeout sets statement_timeout for the transaction so a
// runaway statement cannot block the batch indefinitely.
func SetStatementTimeout(ctx context.Context, tx pgx.Tx, timeout time.Duration) error {
	sql := fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", timeout.Milliseconds())

	_, err := tx.Exec(ctx, sql)
	if err != nil {
		return fmt.Errorf("setting statement_timeout: %w", err)
	}

	return nil
}
