package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetwise/config"
	"github.com/otherjamesbrown/meetwise/pkg/buildinfo"
	"github.com/otherjamesbrown/meetwise/pkg/logging"
)

// ServiceCommandDeps holds dependencies for commands that run against the
// service configuration rather than the operator API.
type ServiceCommandDeps struct {
	LoadConfig func(path string) (*config.Config, error)
}

// DefaultServiceDeps returns default dependencies for production use.
func DefaultServiceDeps() *ServiceCommandDeps {
	return &ServiceCommandDeps{LoadConfig: config.Load}
}

// configPathFlag resolves --config, falling back to $MEETWISE_CONFIG.
func configPathFlag(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	return os.Getenv("MEETWISE_CONFIG")
}

// NewServeCommand creates the 'serve' command.
func NewServeCommand(deps *ServiceCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultServiceDeps()
	}

	var (
		inMemory bool
		migrate  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the meetwise service",
		Long: `Run the meeting lifecycle service: provider webhook ingress, the
processing pipeline workers, the transcript assistant and the operator API.

Configuration is read from --config (or $MEETWISE_CONFIG) and overridden by
MEETWISE_* environment variables.

Examples:
  # Run against PostgreSQL and Redis from a config file
  meetwise serve --config /etc/meetwise/meetwise.yaml

  # Apply pending migrations first
  meetwise serve --config meetwise.yaml --migrate

  # Local development without PostgreSQL or Redis
  meetwise serve --memory`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig(configPathFlag(cmd))
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			logger := logging.NewLogger(cfg.Logging.LoggerConfig())
			logging.SetGlobal(logger)
			logger.Info("Starting meetwise", logging.F("version", buildinfo.String()))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, AppOptions{InMemory: inMemory, Migrate: migrate, Logger: logger})
		},
	}

	cmd.Flags().String("config", "", "Path to the service config file")
	cmd.Flags().BoolVar(&inMemory, "memory", false, "Use in-memory storage instead of PostgreSQL and Redis")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending database migrations before starting")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, opts AppOptions) error {
	app, err := NewApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		return err
	}
	opts.Logger.Info("meetwise stopped")
	return nil
}
