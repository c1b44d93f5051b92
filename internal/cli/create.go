package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/boardvault/migrate/internal/migration"
)

var createCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "create <name>",
	Short: "Scaffold a new migration file",
	Long: `Create a new timestamped migration file in the migrations directory,
pre-populated with UP and DOWN section markers. The name is slugged into
the filename, e.g. "add board members" becomes
20260825_001_add_board_members.sql.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg := AppConfig
	out := cmd.OutOrStdout()

	path, err := migration.Scaffold(cfg.MigrationsDir, args[0], time.Now())
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("migration already exists: %w", err)
		}

		return fmt.Errorf("creating migration: %w", err)
	}

	fmt.Fprintf(out, "Created %s\n", path)

	return nil
}
