package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/boardvault/migrate/internal/executor"
	"github.com/boardvault/migrate/internal/ledger"
	"github.com/boardvault/migrate/internal/migration"
	"github.com/boardvault/migrate/internal/safety"
)

// errDangerousMigrations is returned when up is blocked by danger findings.
var errDangerousMigrations = errors.New("up aborted: dangerous migrations detected (use --force to override)")

var upCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "up",
	Short: "Apply pending migrations",
	Long: `Apply pending database migrations in version order, recording each
outcome in the schema_migrations ledger. Halts on the first failure
unless --force is given.`,
	RunE: runUp,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	upCmd.Flags().Bool("dry-run", false, "print the SQL that would run without executing it")
	upCmd.Flags().Bool("force", false, "skip safety checks and continue past failures")
	upCmd.Flags().Duration("lock-timeout", 0, "override lock timeout (e.g., 10s, 1m)")
	upCmd.Flags().Duration("statement-timeout", 0, "override statement timeout (e.g., 30s, 5m)")
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig

	if cfg.DatabaseURL == "" {
		return errDatabaseURLRequired
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	force, _ := cmd.Flags().GetBool("force")

	lockTimeout := cfg.LockTimeout
	if cmd.Flags().Changed("lock-timeout") {
		lockTimeout, _ = cmd.Flags().GetDuration("lock-timeout")
	}

	stmtTimeout := cfg.StatementTimeout
	if cmd.Flags().Changed("statement-timeout") {
		stmtTimeout, _ = cmd.Flags().GetDuration("statement-timeout")
	}

	out := cmd.OutOrStdout()

	sorted, err := loadSortedMigrations(cfg.MigrationsDir)
	if err != nil {
		return err
	}

	if len(sorted) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}

	ctx := commandContext(cmd)

	pool, err := connectDB(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer pool.Close()

	l := ledger.New(pool)

	records, err := ledgerRecords(ctx, l)
	if err != nil {
		return err
	}

	pending := pendingMigrations(sorted, records)
	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}

	if !force && !dryRun {
		if err := gateOnDangerFindings(out, pending); err != nil {
			return err
		}
	}

	return applyPending(cmd, pool, l, pending, upOpts{
		lockTimeout: lockTimeout,
		stmtTimeout: stmtTimeout,
		dryRun:      dryRun,
		force:       force,
	})
}

type upOpts struct {
	lockTimeout time.Duration
	stmtTimeout time.Duration
	dryRun      bool
	force       bool
}

func applyPending(
	cmd *cobra.Command,
	pool *pgxpool.Pool,
	l *ledger.Ledger,
	pending []migration.Migration,
	opts upOpts,
) error {
	out := cmd.OutOrStdout()

	applied := 0
	failed := 0

	exec := executor.New(pool, l,
		executor.WithLockTimeout(opts.lockTimeout),
		executor.WithStatementTimeout(opts.stmtTimeout),
		executor.WithDryRun(opts.dryRun),
		executor.WithContinueOnError(opts.force),
		executor.WithProgressCallback(func(event executor.ProgressEvent) {
			switch event.Status {
			case executor.StatusStarting:
				fmt.Fprintf(out, "  Applying %s_%s ... ", event.Migration.Version, event.Migration.Name)
			case executor.StatusCompleted:
				fmt.Fprintf(out, "done (%s)\n", event.Duration.Truncate(time.Millisecond))
				applied++
			case executor.StatusDryRun:
				fmt.Fprintf(out, "\n-- %s_%s --\n%s\n", event.Migration.Version, event.Migration.Name, event.SQL)
			case executor.StatusFailed:
				fmt.Fprintf(out, "FAILED\n    Error: %v\n", event.Error)
				failed++
			case executor.StatusWarning:
				fmt.Fprintf(out, "\n  Warning: ledger not updated for %s: %v\n", event.Migration.Version, event.Error)
			}
		}),
	)

	if opts.dryRun {
		fmt.Fprintln(out, "--- DRY RUN (no changes will be made) ---")
	}

	ctx := commandContext(cmd)

	if err := exec.Apply(ctx, pending); err != nil {
		return err
	}

	if opts.dryRun {
		fmt.Fprintf(out, "\nDry run complete: %d migration(s) would be applied.\n", len(pending))
	} else {
		fmt.Fprintf(out, "\nUp complete: %d applied, %d failed.\n", applied, failed)
	}

	return nil
}

// gateOnDangerFindings analyzes pending migrations and blocks the run when
// blocking findings exist.
func gateOnDangerFindings(out io.Writer, pending []migration.Migration) error {
	findings, err := safety.Check(pending)
	if err != nil {
		return fmt.Errorf("analyzing migrations: %w", err)
	}

	printFindings(out, findings)

	if safety.HasBlocking(findings) {
		return errDangerousMigrations
	}

	return nil
}

func printFindings(out io.Writer, findings []safety.Finding) {
	for _, f := range findings {
		fmt.Fprintf(out, "  [%s] %s: %s\n", f.Severity, f.Version, f.Message)

		if f.Table != "" {
			fmt.Fprintf(out, "    Table: %s\n", f.Table)
		}

		fmt.Fprintf(out, "    Fix:   %s\n", f.Suggestion)
	}
}
