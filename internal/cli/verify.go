package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/boardvault/migrate/internal/ledger"
	"github.com/boardvault/migrate/internal/migration"
)

// errChecksumDrift is returned when an applied migration file has been
// edited since it was applied.
var errChecksumDrift = errors.New("checksum verification failed: applied migration files have changed")

var verifyCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "verify",
	Short: "Verify applied migration files are unchanged",
	Long: `Recompute the checksum of every applied migration file and compare it
against the checksum recorded when the migration was applied. Any drift
means a file was edited after the fact and the ledger no longer reflects
what actually ran.`,
	RunE: runVerify,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig

	if cfg.DatabaseURL == "" {
		return errDatabaseURLRequired
	}

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

	records, err := ledgerRecords(ctx, ledger.New(pool))
	if err != nil {
		return err
	}

	drifted := verifyChecksums(sorted, records, out)

	if drifted > 0 {
		return errChecksumDrift
	}

	fmt.Fprintln(out, "All applied migrations verified.")

	return nil
}

// verifyChecksums compares on-disk checksums against applied ledger rows,
// printing one line per problem. Returns the number of drifted migrations.
func verifyChecksums(sorted []migration.Migration, records map[string]ledger.Record, out io.Writer) int {
	byVersion := make(map[string]migration.Migration, len(sorted))
	for _, m := range sorted {
		byVersion[m.Version] = m
	}

	drifted := 0
	checked := 0

	for _, m := range sorted {
		rec, ok := records[m.Version]
		if !ok || rec.Status != ledger.StatusApplied {
			continue
		}

		checked++

		if rec.ChecksumUp != m.UpChecksum {
			drifted++

			fmt.Fprintf(out, "  DRIFT %s_%s: up section changed since applied\n", m.Version, m.Name)
		}

		if rec.ChecksumDown != "" && rec.ChecksumDown != m.DownChecksum {
			drifted++

			fmt.Fprintf(out, "  DRIFT %s_%s: down section changed since applied\n", m.Version, m.Name)
		}
	}

	for version, rec := range records {
		if rec.Status != ledger.StatusApplied {
			continue
		}

		if _, ok := byVersion[version]; !ok {
			drifted++

			fmt.Fprintf(out, "  DRIFT %s_%s: applied migration file missing from disk\n", rec.Version, rec.Name)
		}
	}

	fmt.Fprintf(out, "Checked %d applied migration(s).\n", checked)

	return drifted
}
