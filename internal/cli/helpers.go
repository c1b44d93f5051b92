package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/boardvault/migrate/internal/config"
	"github.com/boardvault/migrate/internal/database"
	"github.com/boardvault/migrate/internal/ledger"
	"github.com/boardvault/migrate/internal/migration"
)

// errDatabaseURLRequired is returned when no database URL is configured.
var errDatabaseURLRequired = errors.New(
	"database URL is required (set --database-url, MIGRATE_DATABASE_URL, or database_url in config)",
)

// commandContext returns the command's context, falling back to Background
// for commands constructed outside Execute (tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}

// loadSortedMigrations loads and sorts all migration files from dir.
func loadSortedMigrations(dir string) ([]migration.Migration, error) {
	migrations, err := migration.LoadFromDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}

	return migration.Sort(migrations), nil
}

// connectDB opens a connection pool, printing the redacted URL.
func connectDB(ctx context.Context, cfg *config.Config, out io.Writer) (*pgxpool.Pool, error) {
	fmt.Fprintf(out, "Connecting to %s\n", config.RedactURL(cfg.DatabaseURL))

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return pool, nil
}

// ledgerRecords returns all ledger rows keyed by version, treating a
// missing ledger table as an empty ledger so reads stay pure.
func ledgerRecords(ctx context.Context, l *ledger.Ledger) (map[string]ledger.Record, error) {
	exists, err := l.TableExists(ctx)
	if err != nil {
		return nil, err
	}

	if !exists {
		return map[string]ledger.Record{}, nil
	}

	records, err := l.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[string]ledger.Record, len(records))
	for _, rec := range records {
		byVersion[rec.Version] = rec
	}

	return byVersion, nil
}

// pendingMigrations filters sorted migrations down to those without an
// applied ledger row.
func pendingMigrations(sorted []migration.Migration, records map[string]ledger.Record) []migration.Migration {
	var pending []migration.Migration

	for _, m := range sorted {
		if rec, ok := records[m.Version]; ok && rec.Status == ledger.StatusApplied {
			continue
		}

		pending = append(pending, m)
	}

	return pending
}
