package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/melosso/reef/config"
	"github.com/melosso/reef/logger"
	"github.com/melosso/reef/schedule"
)

// JobsCmd groups job management subcommands.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage job definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cleanup, err := openJobStore()
		if err != nil {
			return err
		}
		defer cleanup()

		jobs, err := store.ListJobs()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tSCHEDULE\tENABLED\tSTATUS\tNEXT RUN\tFAILURES\tTAGS")
		for _, job := range jobs {
			next := "-"
			if job.NextRunTime != nil {
				next = job.NextRunTime.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\t%s\t%d\t%s\n",
				job.ID, job.Name, job.Type, job.ScheduleType,
				job.IsEnabled, job.Status, next,
				job.ConsecutiveFailures, strings.Join(job.Tags, ","))
		}
		return w.Flush()
	},
}

var jobsTriggerCmd = &cobra.Command{
	Use:   "trigger <job-id>",
	Short: "Make a job due immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cleanup, err := openJobStore()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := store.ScheduleNow(args[0]); err != nil {
			return err
		}
		fmt.Printf("Job %s scheduled, the daemon will pick it up on its next poll\n", args[0])
		return nil
	},
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a circuit-breaker-paused job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cleanup, err := openJobStore()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := store.ResumeCircuitBreakerJob(args[0]); err != nil {
			return err
		}
		fmt.Printf("Job %s re-enabled\n", args[0])
		return nil
	},
}

func init() {
	JobsCmd.AddCommand(jobsListCmd)
	JobsCmd.AddCommand(jobsTriggerCmd)
	JobsCmd.AddCommand(jobsResumeCmd)
}

func openJobStore() (*schedule.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	store := schedule.NewStore(database, schedule.StoreConfig{
		CircuitBreakerThreshold: cfg.Scheduler.CircuitBreakerThreshold,
		AutoResumeCooldown:      time.Duration(cfg.Scheduler.AutoResumeCooldownHours) * time.Hour,
	}, logger.Logger)
	return store, func() { database.Close() }, nil
}
