// Package main provides the meetwise entry point.
// meetwise runs the meeting lifecycle service and is the operator CLI for it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/meetwise/client"
	"github.com/otherjamesbrown/meetwise/cmd"
	"github.com/otherjamesbrown/meetwise/config"
	"github.com/otherjamesbrown/meetwise/pkg/buildinfo"
)

// Global flags.
var (
	serverURL    string
	timeout      time.Duration
	outputFormat string
	debug        bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "meetwise",
	Short: "Meeting lifecycle service and operator CLI",
	Long: `meetwise tracks meetings from scheduling to a summarized transcript.

The service accepts provider webhook events, drives each meeting through
upcoming, active, processing and completed, transcribes and summarizes the
recording, and answers questions about finished meetings.

COMMON WORKFLOWS:
  Run the service:   meetwise migrate --config meetwise.yaml  →  meetwise serve --config meetwise.yaml
  Operator access:   meetwise auth hash-token --generate  →  meetwise auth login
  Inspect meetings:  meetwise meeting get <id>  |  meetwise meeting job <id>
  Ask questions:     meetwise ask <id> "What was decided?"`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadClientConfig loads the operator CLI config and applies global flag overrides.
func loadClientConfig() (*config.ClientConfig, error) {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if timeout != 0 {
		cfg.Timeout = timeout
	}
	if outputFormat != "" {
		cfg.OutputFormat = config.OutputFormat(outputFormat)
	}
	if debug {
		cfg.Debug = true
	}
	return cfg, cfg.Validate()
}

// Version command flags.
var (
	versionRemote     bool
	versionOutputJSON bool
)

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of meetwise.

Use --remote to also query the configured server.
Use --output-json for machine-readable output.

Examples:
  meetwise version                          Show CLI version only
  meetwise version --remote                 Show CLI and server versions
  meetwise version --remote --output-json   Output as JSON`,
	RunE: func(c *cobra.Command, args []string) error {
		out := c.OutOrStdout()
		infos := []buildinfo.Info{buildinfo.Get("meetwise-cli")}

		var remoteErr error
		if versionRemote {
			cfg, err := loadClientConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			opts := client.DefaultOptions()
			opts.Timeout = 5 * time.Second
			opts.MaxRetries = 0
			api, err := client.New(cfg.ServerURL, opts)
			if err != nil {
				return err
			}
			info, err := api.Version(c.Context())
			if err != nil {
				remoteErr = err
				info = &buildinfo.Info{ServiceName: "meetwise", Version: "unreachable"}
			}
			infos = append(infos, *info)
		}

		if versionOutputJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(infos)
		}

		if !versionRemote {
			info := infos[0]
			fmt.Fprintf(out, "meetwise version %s\n", info.Version)
			fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "  built:      %s\n", info.BuildTime)
			return nil
		}

		fmt.Fprintf(out, "%-15s %-12s %-10s %s\n", "SERVICE", "VERSION", "COMMIT", "BUILT")
		for _, info := range infos {
			commit, built := info.Commit, info.BuildTime
			if len(commit) > 10 {
				commit = commit[:10]
			}
			if len(built) > 20 {
				built = built[:20]
			}
			fmt.Fprintf(out, "%-15s %-12s %-10s %s\n", info.ServiceName, info.Version, valueOrDefault(commit, "-"), valueOrDefault(built, "-"))
		}
		if remoteErr != nil && debug {
			fmt.Fprintf(c.ErrOrStderr(), "\nserver: %v\n", remoteErr)
		}
		return nil
	},
}

// configCmd manages configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View and initialize the operator CLI configuration, and validate
service configuration files.`,
}

// configShowCmd displays the current CLI configuration.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current CLI configuration",
	RunE: func(c *cobra.Command, args []string) error {
		cfg, err := loadClientConfig()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		configPath, _ := config.ClientConfigPath()

		out := c.OutOrStdout()
		fmt.Fprintln(out, "Current configuration:")
		fmt.Fprintf(out, "  Config file:    %s\n", configPath)
		fmt.Fprintf(out, "  Server URL:     %s\n", cfg.ServerURL)
		fmt.Fprintf(out, "  Timeout:        %s\n", cfg.Timeout)
		fmt.Fprintf(out, "  Output format:  %s\n", cfg.OutputFormat)
		fmt.Fprintf(out, "  Debug:          %t\n", cfg.Debug)
		return nil
	},
}

// configInitCmd writes a default CLI configuration file.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize CLI configuration file",
	Long:  `Create a CLI configuration file with default values if one doesn't exist.`,
	RunE: func(c *cobra.Command, args []string) error {
		out := c.OutOrStdout()
		configPath, err := config.ClientConfigPath()
		if err != nil {
			return fmt.Errorf("getting config path: %w", err)
		}

		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintf(out, "Configuration file already exists: %s\n", configPath)
			fmt.Fprintln(out, "Use 'meetwise config show' to view current settings.")
			return nil
		}

		defaultCfg := config.DefaultClientConfig()
		if serverURL != "" {
			defaultCfg.ServerURL = serverURL
		}
		if err := config.SaveClientConfig(defaultCfg); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}

		fmt.Fprintf(out, "Created configuration file: %s\n", configPath)
		fmt.Fprintln(out, "\nDefault settings:")
		fmt.Fprintf(out, "  Server URL:     %s\n", defaultCfg.ServerURL)
		fmt.Fprintf(out, "  Timeout:        %s\n", defaultCfg.Timeout)
		fmt.Fprintf(out, "  Output format:  %s\n", defaultCfg.OutputFormat)
		return nil
	},
}

// configValidateCmd checks a service configuration file.
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a service configuration file",
	Long: `Load a service configuration file, apply MEETWISE_* environment
overrides, validate it, and print the effective configuration with secrets
redacted.

Examples:
  meetwise config validate --config /etc/meetwise/meetwise.yaml`,
	RunE: func(c *cobra.Command, args []string) error {
		path, _ := c.Flags().GetString("config")
		if path == "" {
			path = os.Getenv("MEETWISE_CONFIG")
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		out := c.OutOrStdout()
		fmt.Fprintln(out, "# configuration is valid")
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg.Redacted())
	},
}

func valueOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "meetwise server URL (e.g. https://meetwise.internal)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "request timeout (e.g., 30s, 1m)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "", "output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "service", Title: "Service:"},
		&cobra.Group{ID: "meetings", Title: "Meetings:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	// Service
	serveCmd := cmd.NewServeCommand(nil)
	serveCmd.GroupID = "service"
	rootCmd.AddCommand(serveCmd)

	migrateCmd := cmd.NewMigrateCommand(nil)
	migrateCmd.GroupID = "service"
	rootCmd.AddCommand(migrateCmd)

	// Meetings
	operatorDeps := &cmd.OperatorCommandDeps{
		LoadConfig: loadClientConfig,
		NewClient:  cmd.DefaultOperatorDeps().NewClient,
	}

	meetingCmd := cmd.NewMeetingCommand(operatorDeps)
	meetingCmd.GroupID = "meetings"
	rootCmd.AddCommand(meetingCmd)

	askCmd := cmd.NewAskCommand(operatorDeps)
	askCmd.GroupID = "meetings"
	rootCmd.AddCommand(askCmd)

	// Setup
	cmd.AuthCmd.GroupID = "setup"
	rootCmd.AddCommand(cmd.AuthCmd)

	configCmd.GroupID = "setup"
	configValidateCmd.Flags().String("config", "", "Path to the service config file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)

	versionCmd.GroupID = "setup"
	versionCmd.Flags().BoolVar(&versionRemote, "remote", false, "Also query the server version")
	versionCmd.Flags().BoolVar(&versionOutputJSON, "output-json", false, "Output as JSON")
	rootCmd.AddCommand(versionCmd)

	rootCmd.SetHelpCommandGroupID("setup")
	rootCmd.SetCompletionCommandGroupID("setup")
}

func main() {
	// serve installs its own signal handling so it can drain cleanly.
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
