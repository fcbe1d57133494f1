// Package cmd contains the CLI commands for evectl.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/eveboxstack/evebox-review/internal/config"
	"github.com/eveboxstack/evebox-review/internal/services"
	"github.com/eveboxstack/evebox-review/internal/utils"
)

var (
	// Used for flags
	configPath string
	baseURL    string
	verbose    bool
	output     string

	cfg    *config.Config
	logger *slog.Logger
	client *services.EventIndexClient
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "evectl",
	Short: "evectl - review Suricata alerts stored behind EveBox",
	Long: `evectl queries and triages events through the EveBox API.

Mutations (escalate, de-escalate, archive) run through a bounded job queue,
at most queue.concurrency requests at a time.

Examples:
  # List unarchived alert groups from the last day
  evectl alerts --range 24h

  # Show one event as JSON
  evectl event 6f1c2b3a-...

  # Escalate several events
  evectl escalate ID1 ID2 ID3

  # Preview what the auto-archive rules would do
  evectl sweep --dry-run`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (or EVEBOX_REVIEW_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "", "EveBox base URL, overrides the configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
}

func setup(cmd *cobra.Command, args []string) error {
	if output != "table" && output != "json" {
		return fmt.Errorf("unknown output format %q", output)
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger = utils.NewLoggerTo(cmd.ErrOrStderr(), level, false)

	loaded, err := config.Load(configPath)
	if err != nil {
		return utils.NewAppError("evectl", "load configuration", err)
	}
	if baseURL != "" {
		loaded.Clients.EveBox.BaseURL = baseURL
	}
	cfg = loaded
	client, _ = services.NewEventIndexClientFromConfig(cfg, logger)
	return nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// PrintVerbose prints a message to stderr only if verbose mode is enabled.
func PrintVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
