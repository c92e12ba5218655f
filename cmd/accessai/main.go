package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/robertclapp/accessai-sub004/am"
	"github.com/robertclapp/accessai-sub004/cmd/accessai/commands"
	"github.com/robertclapp/accessai-sub004/logger"
)

var rootCmd = &cobra.Command{
	Use:   "accessai",
	Short: "accessai - scheduled jobs and subject-line experiments",
	Long: `accessai - scheduled job engine and A/B test decision engine.

Runs the scheduler that evaluates running subject-line experiments and
completes them once a variant wins with the configured confidence, and
exposes the admin controls for jobs and experiments.

Available commands:
  serve      - Run the scheduler, notification dispatcher and metrics endpoint
  jobs       - Inspect, trigger and toggle scheduled jobs
  experiment - Manage experiments and their variants
  db         - Database operations
  am         - Show and initialise configuration
  version    - Show build information

Examples:
  accessai serve -v                          # Run with info logging
  accessai jobs status                       # Show the job registry
  accessai jobs run experiments.autocomplete # Evaluate experiments now
  accessai experiment list --status running  # List running experiments`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")

		// Config errors surface in the commands that need config; only the log format is read here
		jsonOutput := false
		if cfg, err := am.Load(); err == nil {
			jsonOutput = cfg.Log.JSON
		}
		if err := logger.InitializeWithLevel(jsonOutput, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.ExperimentCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
