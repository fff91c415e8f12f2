package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/melosso/reef/cmd/reefd/commands"
)

var rootCmd = &cobra.Command{
	Use:   "reefd",
	Short: "Reef - job scheduling and export orchestration daemon",
	Long: `Reef schedules and executes data-export jobs.

The daemon polls for due jobs across five schedule kinds (interval, cron,
daily, weekly, monthly), admits them through a priority queue with bounded
concurrency, runs them with retries and a circuit breaker, and drives
multi-phase profile executions with delta sync and delivery tracking.

Examples:
  reefd serve                  # Start the daemon in foreground
  reefd migrate                # Apply database migrations and exit
  reefd jobs list              # List job definitions
  reefd jobs trigger jb_1      # Trigger a job manually
  reefd jobs resume jb_1       # Resume a circuit-breaker-paused job`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.MigrateCmd)
	rootCmd.AddCommand(commands.JobsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
