package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/boardvault/migrate/internal/ledger"
	"github.com/boardvault/migrate/internal/migration"
)

var statusCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "status",
	Short: "Show migration status",
	Long: `Show every known migration with its ledger state. Migrations on disk
without a ledger row are pending; ledger rows without a file on disk are
flagged as missing. Status never writes to the database.`,
	RunE: runStatus,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	statusCmd.Flags().String("format", "", "output format: text or json")
	rootCmd.AddCommand(statusCmd)
}

// statusRow is one line of status output, shared by text and JSON renderers.
type statusRow struct {
	Version   string     `json:"version"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	OnDisk    bool       `json:"on_disk"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig

	if cfg.DatabaseURL == "" {
		return errDatabaseURLRequired
	}

	format := cfg.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}

	if format != "text" && format != "json" {
		return fmt.Errorf("unknown format %q: expected text or json", format)
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

	rows := statusRows(sorted, records)

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		return enc.Encode(rows)
	}

	renderStatusTable(out, rows)

	return nil
}

// statusRows merges on-disk migrations with ledger records into a single
// version-ordered view.
func statusRows(sorted []migration.Migration, records map[string]ledger.Record) []statusRow {
	rows := make([]statusRow, 0, len(sorted))
	seen := make(map[string]bool, len(sorted))

	for _, m := range sorted {
		seen[m.Version] = true

		row := statusRow{
			Version: m.Version,
			Name:    m.Name,
			Status:  ledger.StatusPending,
			OnDisk:  true,
		}

		if rec, ok := records[m.Version]; ok {
			row.Status = rec.Status
			row.AppliedAt = rec.AppliedAt
		}

		rows = append(rows, row)
	}

	// Ledger rows with no matching file: the migration was applied from a
	// file that has since been removed or renamed.
	for version, rec := range records {
		if seen[version] {
			continue
		}

		rows = append(rows, statusRow{
			Version:   rec.Version,
			Name:      rec.Name,
			Status:    rec.Status,
			AppliedAt: rec.AppliedAt,
			OnDisk:    false,
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Version < rows[j].Version })

	return rows
}

func renderStatusTable(out io.Writer, rows []statusRow) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No migrations found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")

	applied := 0
	pending := 0

	for _, row := range rows {
		appliedAt := "-"
		if row.AppliedAt != nil {
			appliedAt = row.AppliedAt.Format(time.RFC3339)
		}

		status := row.Status
		if !row.OnDisk {
			status += " (file missing)"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", row.Version, row.Name, status, appliedAt)

		switch row.Status {
		case ledger.StatusApplied:
			applied++
		case ledger.StatusPending:
			pending++
		}
	}

	w.Flush() //nolint:errcheck,gosec // tabwriter over stdout

	fmt.Fprintf(out, "\n%d applied, %d pending, %d total\n", applied, pending, len(rows))
}
