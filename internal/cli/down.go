package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/boardvault/migrate/internal/executor"
	"github.com/boardvault/migrate/internal/ledger"
	"github.com/boardvault/migrate/internal/migration"
)

var downCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "down [steps]",
	Short: "Roll back applied migrations",
	Long: `Roll back the most recent applied migrations using their DOWN
sections, newest first. Steps defaults to 1.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDown,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	downCmd.Flags().Bool("dry-run", false, "print the SQL that would run without executing it")
	downCmd.Flags().Bool("force", false, "continue past rollback failures")
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	cfg := AppConfig

	if cfg.DatabaseURL == "" {
		return errDatabaseURLRequired
	}

	steps := 1

	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid steps %q: expected a positive integer", args[0])
		}

		steps = n
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	force, _ := cmd.Flags().GetBool("force")

	out := cmd.OutOrStdout()
	ctx := commandContext(cmd)

	sorted, err := loadSortedMigrations(cfg.MigrationsDir)
	if err != nil {
		return err
	}

	pool, err := connectDB(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer pool.Close()

	l := ledger.New(pool)

	targets, err := rollbackTargets(cmd, l, sorted, steps)
	if err != nil || targets == nil {
		return err
	}

	rolledBack := 0

	exec := executor.New(pool, l,
		executor.WithLockTimeout(cfg.LockTimeout),
		executor.WithStatementTimeout(cfg.StatementTimeout),
		executor.WithDryRun(dryRun),
		executor.WithContinueOnError(force),
		executor.WithProgressCallback(func(event executor.ProgressEvent) {
			switch event.Status {
			case executor.StatusStarting:
				fmt.Fprintf(out, "  Rolling back %s_%s ... ", event.Migration.Version, event.Migration.Name)
			case executor.StatusCompleted:
				fmt.Fprintf(out, "done (%s)\n", event.Duration.Truncate(time.Millisecond))
				rolledBack++
			case executor.StatusDryRun:
				fmt.Fprintf(out, "\n-- %s_%s (rollback) --\n%s\n", event.Migration.Version, event.Migration.Name, event.SQL)
			case executor.StatusFailed:
				fmt.Fprintf(out, "FAILED\n    Error: %v\n", event.Error)
			case executor.StatusWarning:
				fmt.Fprintf(out, "\n  Warning: ledger not updated for %s: %v\n", event.Migration.Version, event.Error)
			}
		}),
	)

	if dryRun {
		fmt.Fprintln(out, "--- DRY RUN (no changes will be made) ---")
	}

	if err := exec.Rollback(ctx, targets); err != nil {
		return err
	}

	if dryRun {
		fmt.Fprintf(out, "\nDry run complete: %d migration(s) would be rolled back.\n", len(targets))
	} else {
		fmt.Fprintf(out, "\nDown complete: %d rolled back.\n", rolledBack)
	}

	return nil
}

// rollbackTargets resolves the last `steps` applied ledger records to their
// migration files, most recent first. Returns nil targets (and nil error)
// when there is nothing to roll back.
func rollbackTargets(
	cmd *cobra.Command,
	l *ledger.Ledger,
	sorted []migration.Migration,
	steps int,
) ([]migration.Migration, error) {
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	exists, err := l.TableExists(ctx)
	if err != nil {
		return nil, err
	}

	if !exists {
		fmt.Fprintln(out, "No applied migrations.")
		return nil, nil //nolint:nilnil // nil,nil signals "nothing to do, no error"
	}

	applied, err := l.GetApplied(ctx)
	if err != nil {
		return nil, err
	}

	if len(applied) == 0 {
		fmt.Fprintln(out, "No applied migrations.")
		return nil, nil //nolint:nilnil // nil,nil signals "nothing to do, no error"
	}

	if steps > len(applied) {
		steps = len(applied)
	}

	byVersion := make(map[string]migration.Migration, len(sorted))
	for _, m := range sorted {
		byVersion[m.Version] = m
	}

	// Most recent first.
	var targets []migration.Migration

	for i := len(applied) - 1; i >= len(applied)-steps; i-- {
		rec := applied[i]

		m, ok := byVersion[rec.Version]
		if !ok {
			return nil, fmt.Errorf("migration file for applied version %s not found on disk", rec.Version)
		}

		targets = append(targets, m)
	}

	return targets, nil
}
