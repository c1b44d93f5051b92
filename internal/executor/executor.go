package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boardvault/migrate/internal/database"
	"github.com/boardvault/migrate/internal/ledger"
	"github.com/boardvault/migrate/internal/migration"
	"github.com/boardvault/migrate/internal/parser"
)

// Progress status constants reported via ProgressEvent.
const (
	StatusStarting  = "starting"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusDryRun    = "dry-run"
	StatusWarning   = "warning"
)

// ProgressEvent is emitted by the executor for each migration processed.
// StatusDryRun events carry the SQL that would have been executed.
// StatusWarning events carry a non-fatal ledger-write error.
type ProgressEvent struct {
	Migration *migration.Migration
	Status    string
	Duration  time.Duration
	Error     error
	SQL       string
}

// MigrationLedger abstracts ledger operations for testability.
type MigrationLedger interface {
	EnsureTable(ctx context.Context) error
	IsApplied(ctx context.Context, version string) (bool, error)
	Get(ctx context.Context, version string) (*ledger.Record, error)
	MarkRunning(ctx context.Context, rec ledger.Record) error
	MarkApplied(ctx context.Context, version string, executionTime time.Duration) error
	MarkFailed(ctx context.Context, version, errText string, executionTime time.Duration) error
	MarkRolledBack(ctx context.Context, version string) error
}

// lockReleaser is returned by lockFn and must be released when done.
type lockReleaser interface {
	Release(ctx context.Context) error
}

// lockFunc acquires the migration advisory lock and returns a releaser.
type lockFunc func(ctx context.Context) (lockReleaser, error)

// sqlExecFunc executes one migration body as a single batch.
type sqlExecFunc func(ctx context.Context, sql string) error

// Executor applies or rolls back migrations one at a time, recording each
// outcome in the ledger. An advisory lock excludes concurrent runs.
type Executor struct {
	pool             *pgxpool.Pool
	ledger           MigrationLedger
	lockTimeout      time.Duration
	statementTimeout time.Duration
	dryRun           bool
	continueOnError  bool
	onProgress       func(ProgressEvent)
	acquireLock      lockFunc
	execSQL          sqlExecFunc
}

// Option configures an Executor.
type Option func(*Executor)

// WithLockTimeout sets the per-transaction lock_timeout.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Executor) { e.lockTimeout = d }
}

// WithStatementTimeout sets the per-transaction statement_timeout.
func WithStatementTimeout(d time.Duration) Option {
	return func(e *Executor) { e.statementTimeout = d }
}

// WithDryRun enables dry-run mode where no SQL is executed and the ledger
// is left untouched.
func WithDryRun(b bool) Option {
	return func(e *Executor) { e.dryRun = b }
}

// WithContinueOnError keeps the batch going after a failed migration
// instead of halting at the first failure.
func WithContinueOnError(b bool) Option {
	return func(e *Executor) { e.continueOnError = b }
}

// WithProgressCallback sets a function called for each migration processed.
func WithProgressCallback(fn func(ProgressEvent)) Option {
	return func(e *Executor) { e.onProgress = fn }
}

// New creates an Executor with the given pool, ledger, and options.
func New(pool *pgxpool.Pool, l MigrationLedger, opts ...Option) *Executor {
	e := &Executor{
		pool:   pool,
		ledger: l,
	}

	for _, opt := range opts {
		opt(e)
	}

	// Defaults for injectable functions are set after options so tests can
	// replace them.
	if e.acquireLock == nil {
		e.acquireLock = func(ctx context.Context) (lockReleaser, error) {
			return database.TryAcquireLock(ctx, e.pool)
		}
	}

	if e.execSQL == nil {
		e.execSQL = e.executeBody
	}

	return e
}

// Apply executes pending migrations in order. Already-applied migrations are
// skipped after verifying their recorded checksum still matches the file.
func (e *Executor) Apply(ctx context.Context, migrations []migration.Migration) error {
	return e.withLockAndLedger(ctx, func() error {
		var errs []error

		for i := range migrations {
			if err := e.applyOne(ctx, &migrations[i]); err != nil {
				if !e.continueOnError {
					return err
				}

				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	})
}

// Rollback reverses the given migrations in the order provided (callers
// pass most-recent-first). A migration without a DOWN section fails without
// touching its ledger row.
func (e *Executor) Rollback(ctx context.Context, migrations []migration.Migration) error {
	return e.withLockAndLedger(ctx, func() error {
		var errs []error

		for i := range migrations {
			if err := e.rollbackOne(ctx, &migrations[i]); err != nil {
				if !e.continueOnError {
					return err
				}

				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	})
}

// withLockAndLedger takes the advisory lock, ensures the ledger table, and
// runs fn while the lock is held.
func (e *Executor) withLockAndLedger(ctx context.Context, fn func() error) error {
	lock, err := e.acquireLock(ctx)
	if err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer lock.Release(ctx) //nolint:errcheck // best-effort release on return

	if err := e.ledger.EnsureTable(ctx); err != nil {
		return err
	}

	return fn()
}

// applyOne handles a single migration: skip if applied, dry-run report,
// claim as running, execute, record the outcome, and fire progress.
func (e *Executor) applyOne(ctx context.Context, m *migration.Migration) error {
	skip, err := e.shouldSkip(ctx, m)
	if err != nil {
		return err
	}

	if skip {
		e.fireProgress(ProgressEvent{Migration: m, Status: StatusSkipped})
		return nil
	}

	if e.dryRun {
		e.fireProgress(ProgressEvent{Migration: m, Status: StatusDryRun, SQL: m.UpSQL})
		return nil
	}

	e.fireProgress(ProgressEvent{Migration: m, Status: StatusStarting})

	if err := e.ledger.MarkRunning(ctx, ledger.Record{
		Version:      m.Version,
		Name:         m.Name,
		Filename:     m.Filename,
		ChecksumUp:   m.UpChecksum,
		ChecksumDown: m.DownChecksum,
	}); err != nil {
		return fmt.Errorf("claiming migration %s: %w", m.Version, err)
	}

	start := time.Now()
	execErr := e.execSQL(ctx, m.UpSQL)
	duration := time.Since(start)

	if execErr != nil {
		if ledgerErr := e.ledger.MarkFailed(ctx, m.Version, execErr.Error(), duration); ledgerErr != nil {
			e.fireProgress(ProgressEvent{Migration: m, Status: StatusWarning, Error: ledgerErr})
		}

		e.fireProgress(ProgressEvent{
			Migration: m,
			Status:    StatusFailed,
			Duration:  duration,
			Error:     execErr,
		})

		return fmt.Errorf("executing migration %s: %w", m.Version, execErr)
	}

	// The schema change is already committed at this point, so a ledger
	// write failure is reported but does not fail the migration.
	if err := e.ledger.MarkApplied(ctx, m.Version, duration); err != nil {
		e.fireProgress(ProgressEvent{Migration: m, Status: StatusWarning, Error: err})
	}

	e.fireProgress(ProgressEvent{
		Migration: m,
		Status:    StatusCompleted,
		Duration:  duration,
	})

	return nil
}

// rollbackOne reverses a single applied migration using its DOWN body.
func (e *Executor) rollbackOne(ctx context.Context, m *migration.Migration) error {
	if !m.HasDown() {
		e.fireProgress(ProgressEvent{Migration: m, Status: StatusFailed, Error: ErrNoRollback})

		return fmt.Errorf("rolling back migration %s: %w", m.Version, ErrNoRollback)
	}

	applied, err := e.ledger.IsApplied(ctx, m.Version)
	if err != nil {
		return fmt.Errorf("checking migration %s: %w", m.Version, err)
	}

	if !applied {
		e.fireProgress(ProgressEvent{Migration: m, Status: StatusFailed, Error: ErrNotApplied})

		return fmt.Errorf("rolling back migration %s: %w", m.Version, ErrNotApplied)
	}

	if e.dryRun {
		e.fireProgress(ProgressEvent{Migration: m, Status: StatusDryRun, SQL: m.DownSQL})
		return nil
	}

	e.fireProgress(ProgressEvent{Migration: m, Status: StatusStarting})

	start := time.Now()
	execErr := e.execSQL(ctx, m.DownSQL)
	duration := time.Since(start)

	if execErr != nil {
		// The row stays 'applied': the down body did not commit.
		e.fireProgress(ProgressEvent{
			Migration: m,
			Status:    StatusFailed,
			Duration:  duration,
			Error:     execErr,
		})

		return fmt.Errorf("rolling back migration %s: %w", m.Version, execErr)
	}

	if err := e.ledger.MarkRolledBack(ctx, m.Version); err != nil {
		e.fireProgress(ProgressEvent{Migration: m, Status: StatusWarning, Error: err})
	}

	e.fireProgress(ProgressEvent{
		Migration: m,
		Status:    StatusCompleted,
		Duration:  duration,
	})

	return nil
}

// shouldSkip returns true if the migration is already applied.
// Verifies the recorded checksum of applied migrations to catch file drift.
func (e *Executor) shouldSkip(ctx context.Context, m *migration.Migration) (bool, error) {
	applied, err := e.ledger.IsApplied(ctx, m.Version)
	if err != nil {
		return false, fmt.Errorf("checking migration %s: %w", m.Version, err)
	}

	if !applied {
		return false, nil
	}

	rec, err := e.ledger.Get(ctx, m.Version)
	if err != nil {
		return false, fmt.Errorf("reading ledger for %s: %w", m.Version, err)
	}

	if rec.ChecksumUp != m.UpChecksum {
		return false, fmt.Errorf(
			"migration %s: %w: recorded=%s computed=%s",
			m.Version, ledger.ErrChecksumMismatch, rec.ChecksumUp, m.UpChecksum,
		)
	}

	return true, nil
}

// executeBody runs a migration body as a single batch, choosing between
// transactional and non-transactional execution based on whether it
// contains CREATE INDEX CONCURRENTLY.
func (e *Executor) executeBody(ctx context.Context, sql string) error {
	concurrent, err := parser.ContainsConcurrentIndex(sql)
	if err != nil {
		return err
	}

	if concurrent {
		return ExecWithoutTransaction(ctx, e.pool, sql)
	}

	return ExecInTransaction(ctx, e.pool, func(tx pgx.Tx) error {
		if e.lockTimeout > 0 {
			if err := SetLockTimeout(ctx, tx, e.lockTimeout); err != nil {
				return err
			}
		}

		if e.statementTimeout > 0 {
			if err := SetStatementTimeout(ctx, tx, e.statementTimeout); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("executing SQL: %w", err)
		}

		return nil
	})
}

func (e *Executor) fireProgress(event ProgressEvent) {
	if e.onProgress != nil {
		e.onProgress(event)
	}
}
