package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Migration status values as recorded in the ledger.
const (
	StatusPending    = "pending"
	StatusRunning    = "running"
	StatusApplied    = "applied"
	StatusFailed     = "failed"
	StatusRolledBack = "rolled_back"
)

// Record is a row of the schema_migrations ledger table.
type Record struct {
	Version         string         `db:"version"`
	Name            string         `db:"name"`
	Filename        string         `db:"filename"`
	ChecksumUp      string         `db:"checksum_up"`
	ChecksumDown    string         `db:"checksum_down"`
	Status          string         `db:"status"`
	AppliedAt       *time.Time     `db:"applied_at"`
	RolledBackAt    *time.Time     `db:"rolled_back_at"`
	ExecutionTimeMs int64          `db:"execution_time_ms"`
	Metadata        map[string]any `db:"metadata"`
}

// Querier is the subset of pgxpool.Pool the ledger needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger manages the schema_migrations table.
type Ledger struct {
	db Querier
	sb sq.StatementBuilderType
}

// New creates a Ledger backed by the given querier (normally a pgxpool.Pool).
func New(db Querier) *Ledger {
	return &Ledger{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnsureTable creates the ledger table if it does not exist.
func (l *Ledger) EnsureTable(ctx context.Context) error {
	_, err := l.db.Exec(ctx, createSchemaSQL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTableCreation, err)
	}

	return nil
}

// TableExists reports whether the ledger table is present. Status reporting
// uses this instead of EnsureTable so that `status` stays a pure read.
func (l *Ledger) TableExists(ctx context.Context) (bool, error) {
	var exists bool

	err := pgxscan.Get(ctx, l.db, &exists,
		`SELECT to_regclass($1) IS NOT NULL`, TableName)
	if err != nil {
		return false, fmt.Errorf("checking for %s table: %w", TableName, err)
	}

	return exists, nil
}

// recordColumns is the column list shared by all SELECTs, matching Record's db tags.
func recordColumns() []string {
	return []string{
		"version", "name", "filename", "checksum_up", "checksum_down",
		"status", "applied_at", "rolled_back_at", "execution_time_ms", "metadata",
	}
}

// GetAll returns every ledger row ordered by version.
func (l *Ledger) GetAll(ctx context.Context) ([]Record, error) {
	query, args, err := l.sb.Select(recordColumns()...).
		From(TableName).
		OrderBy("version").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building ledger query: %w", err)
	}

	var records []Record
	if err := pgxscan.Select(ctx, l.db, &records, query, args...); err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}

	return records, nil
}

// GetApplied returns all migrations with status 'applied' ordered by version.
func (l *Ledger) GetApplied(ctx context.Context) ([]Record, error) {
	query, args, err := l.sb.Select(recordColumns()...).
		From(TableName).
		Where(sq.Eq{"status": StatusApplied}).
		OrderBy("version").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building applied query: %w", err)
	}

	var records []Record
	if err := pgxscan.Select(ctx, l.db, &records, query, args...); err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}

	return records, nil
}

// Get returns the ledger row for a single version.
func (l *Ledger) Get(ctx context.Context, version string) (*Record, error) {
	query, args, err := l.sb.Select(recordColumns()...).
		From(TableName).
		Where(sq.Eq{"version": version}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building version query: %w", err)
	}

	var rec Record
	if err := pgxscan.Get(ctx, l.db, &rec, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, fmt.Errorf("migration %s: %w", version, ErrRecordNotFound)
		}

		return nil, fmt.Errorf("querying migration %s: %w", version, err)
	}

	return &rec, nil
}

// IsApplied checks whether a migration version has been successfully applied.
func (l *Ledger) IsApplied(ctx context.Context, version string) (bool, error) {
	rec, err := l.Get(ctx, version)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return false, nil
		}

		return false, err
	}

	return rec.Status == StatusApplied, nil
}

// MarkRunning upserts the ledger row for a migration with status 'running'.
// The upsert handles re-attempts after a failure or rollback; exclusion of
// concurrent runners is the advisory lock's job, not the ledger's.
func (l *Ledger) MarkRunning(ctx context.Context, rec Record) error {
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}

	query, args, err := l.sb.Insert(TableName).
		Columns("version", "name", "filename", "checksum_up", "checksum_down", "status", "metadata").
		Values(rec.Version, rec.Name, rec.Filename, rec.ChecksumUp, rec.ChecksumDown, StatusRunning, rec.Metadata).
		Suffix(`ON CONFLICT (version) DO UPDATE SET
			name = EXCLUDED.name,
			filename = EXCLUDED.filename,
			checksum_up = EXCLUDED.checksum_up,
			checksum_down = EXCLUDED.checksum_down,
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building running upsert: %w", err)
	}

	if _, err := l.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("marking migration %s running: %w", rec.Version, err)
	}

	return nil
}

// MarkApplied transitions a version to 'applied', recording elapsed time.
func (l *Ledger) MarkApplied(ctx context.Context, version string, executionTime time.Duration) error {
	query, args, err := l.sb.Update(TableName).
		Set("status", StatusApplied).
		Set("applied_at", sq.Expr("NOW()")).
		Set("rolled_back_at", nil).
		Set("execution_time_ms", executionTime.Milliseconds()).
		Where(sq.Eq{"version": version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building applied update: %w", err)
	}

	return l.execExpectingRow(ctx, version, query, args)
}

// MarkFailed transitions a version to 'failed' and stores the error text
// in the row's metadata for later diagnosis.
func (l *Ledger) MarkFailed(ctx context.Context, version, errText string, executionTime time.Duration) error {
	query, args, err := l.sb.Update(TableName).
		Set("status", StatusFailed).
		Set("execution_time_ms", executionTime.Milliseconds()).
		Set("metadata", sq.Expr(
			"metadata || jsonb_build_object('error', ?::text, 'failed_at', NOW())", errText)).
		Where(sq.Eq{"version": version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building failed update: %w", err)
	}

	return l.execExpectingRow(ctx, version, query, args)
}

// MarkRolledBack transitions an applied version to 'rolled_back'.
func (l *Ledger) MarkRolledBack(ctx context.Context, version string) error {
	query, args, err := l.sb.Update(TableName).
		Set("status", StatusRolledBack).
		Set("rolled_back_at", sq.Expr("NOW()")).
		Where(sq.Eq{"version": version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building rolled_back update: %w", err)
	}

	return l.execExpectingRow(ctx, version, query, args)
}

// execExpectingRow runs an UPDATE that must touch exactly one version row.
func (l *Ledger) execExpectingRow(ctx context.Context, version, query string, args []any) error {
	tag, err := l.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating migration %s: %w", version, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("migration %s: %w", version, ErrRecordNotFound)
	}

	return nil
}
