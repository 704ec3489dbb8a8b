package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/database"
)

const defaultMigrationsDir = "migrations"

func newMigrateCommand() *cobra.Command {
	var (
		dir   string
		steps int
	)

	cmd := &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{database.MigrateUp, database.MigrateDown},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap.LoadConfig(options())
			if err != nil {
				return err
			}

			changed, err := database.Migrate(cfg.Database.URL(), dir, args[0], steps)
			if err != nil {
				return err
			}
			version, dirty, err := database.MigrationVersion(cfg.Database.URL(), dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !changed {
				fmt.Fprintf(out, "No migrations to apply (version %d)\n", version)
				return nil
			}
			fmt.Fprintf(out, "Migration %s completed, now at version %d (dirty: %t)\n", args[0], version, dirty)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", defaultMigrationsDir, "migrations directory")
	cmd.Flags().IntVar(&steps, "steps", 1, "migrations to roll back with down")

	return cmd
}
