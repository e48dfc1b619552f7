package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetwise/config"
	"github.com/otherjamesbrown/meetwise/migrations"
	"github.com/otherjamesbrown/meetwise/pkg/db"
)

// MigrateCommandDeps holds the dependencies for migration commands.
type MigrateCommandDeps struct {
	LoadConfig  func(path string) (*config.Config, error)
	ConnectToDB func(context.Context, db.Config) (*pgxpool.Pool, error)
}

// DefaultMigrateDeps returns the default dependencies for production use.
func DefaultMigrateDeps() *MigrateCommandDeps {
	return &MigrateCommandDeps{
		LoadConfig: config.Load,
		ConnectToDB: func(ctx context.Context, cfg db.Config) (*pgxpool.Pool, error) {
			return db.ConnectWithRetry(ctx, cfg, 3, 2*time.Second)
		},
	}
}

// NewMigrateCommand creates the 'migrate' command and its 'status' subcommand.
func NewMigrateCommand(deps *MigrateCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultMigrateDeps()
	}

	var (
		dryRun bool
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Migrations are embedded in the binary and applied in order, each in its own
transaction, and recorded in the schema_migrations table. If a migration
fails it is rolled back and no further migrations are attempted.

Examples:
  # Apply all pending migrations
  meetwise migrate --config meetwise.yaml

  # Preview without applying
  meetwise migrate --dry-run

  # Apply without the confirmation prompt
  meetwise migrate --yes

  # Show applied and pending migrations
  meetwise migrate status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, deps, dryRun, yes)
		},
	}

	cmd.PersistentFlags().String("config", "", "Path to the service config file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Apply without prompting")

	cmd.AddCommand(newMigrateStatusCommand(deps))
	return cmd
}

func newMigrateStatusCommand(deps *MigrateCommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := connectForMigrate(cmd, deps)
			if err != nil {
				return err
			}
			defer pool.Close()

			status, err := db.GetMigrationStatus(cmd.Context(), pool, migrations.FS)
			if err != nil {
				return fmt.Errorf("getting migration status: %w", err)
			}

			format := config.OutputFormatText
			if output != "" {
				format = config.OutputFormat(output)
			}
			return writeOutput(cmd.OutOrStdout(), format, status, func(w io.Writer) error {
				return writeMigrationStatusText(w, status)
			})
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

func connectForMigrate(cmd *cobra.Command, deps *MigrateCommandDeps) (*pgxpool.Pool, error) {
	cfg, err := deps.LoadConfig(configPathFlag(cmd))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	pool, err := deps.ConnectToDB(cmd.Context(), cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}

func runMigrate(cmd *cobra.Command, deps *MigrateCommandDeps, dryRun, yes bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	pool, err := connectForMigrate(cmd, deps)
	if err != nil {
		return err
	}
	defer pool.Close()

	status, err := db.GetMigrationStatus(ctx, pool, migrations.FS)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}
	if len(status.Pending) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}

	fmt.Fprintf(out, "Pending migrations (%d):\n", len(status.Pending))
	for _, m := range status.Pending {
		fmt.Fprintf(out, "  %s - %s\n", m.Version, m.Name)
	}
	fmt.Fprintln(out)

	if dryRun {
		fmt.Fprintln(out, "Dry run mode: no migrations applied.")
		return nil
	}

	if !yes {
		fmt.Fprint(out, "Apply these migrations? (y/N): ")
		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(response)) != "y" {
			fmt.Fprintln(out, "Migration cancelled.")
			return nil
		}
	}

	result, err := db.RunMigrations(ctx, pool, migrations.FS)
	if err != nil {
		fmt.Fprintf(out, "\nMigration failed: %v\n", err)
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintln(out, "\nSuccessfully applied before failure:")
			for _, v := range result.Applied {
				fmt.Fprintf(out, "  ✓ %s\n", v)
			}
		}
		return err
	}

	fmt.Fprintf(out, "Applied %d migration(s):\n", len(result.Applied))
	for _, v := range result.Applied {
		fmt.Fprintf(out, "  ✓ %s\n", v)
	}
	return nil
}

func writeMigrationStatusText(w io.Writer, status *db.MigrationStatus) error {
	if len(status.Applied) == 0 && len(status.Pending) == 0 {
		fmt.Fprintln(w, "No migrations found.")
		return nil
	}

	if len(status.Applied) > 0 {
		fmt.Fprintf(w, "Applied Migrations (%d):\n", len(status.Applied))
		fmt.Fprintln(w, "  VERSION    NAME                              APPLIED")
		for _, m := range status.Applied {
			fmt.Fprintf(w, "  %-10s %-33s %s\n", m.Version, truncate(m.Name, 33), formatTime(m.AppliedAt))
		}
		fmt.Fprintln(w)
	}

	if len(status.Pending) > 0 {
		fmt.Fprintf(w, "Pending Migrations (%d):\n", len(status.Pending))
		fmt.Fprintln(w, "  VERSION    NAME")
		for _, m := range status.Pending {
			fmt.Fprintf(w, "  %-10s %s\n", m.Version, m.Name)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Summary: %d applied, %d pending\n", len(status.Applied), len(status.Pending))
	return nil
}
