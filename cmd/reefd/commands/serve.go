package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/melosso/reef/config"
	"github.com/melosso/reef/deltasync"
	"github.com/melosso/reef/executor"
	"github.com/melosso/reef/logger"
	"github.com/melosso/reef/notify"
	"github.com/melosso/reef/pipeline"
	"github.com/melosso/reef/queue"
	"github.com/melosso/reef/schedule"
)

// profileDeps holds the host-supplied profile pipeline collaborators.
// Query execution, delivery and templating live outside this daemon, so
// embedding applications wire them in before Execute runs.
var profileDeps *pipeline.Deps

// RegisterProfilePipeline installs the collaborators used for
// ProfileExecution jobs. Must be called before ServeCmd runs; without it
// profile jobs fail with a descriptive error.
func RegisterProfilePipeline(deps pipeline.Deps) {
	profileDeps = &deps
}

// ServeCmd starts the Reef daemon in foreground mode.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Reef daemon",
	Long: `Start the Reef daemon in foreground mode.

The daemon will:
- Poll for due jobs and admit them through the priority queue
- Execute jobs with retries, timeouts and the circuit breaker
- Sweep for auto-resumable circuit-breaker jobs
- Reload scheduler settings when the config file changes
- Run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, _ := cmd.Flags().GetInt("workers")
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if workers > 0 {
			cfg.Scheduler.MaxConcurrentJobs = workers
		}

		if err := logger.Initialize(cfg.Log.JSON); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer logger.Cleanup()

		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		jobStore := schedule.NewStore(database, schedule.StoreConfig{
			CircuitBreakerThreshold: cfg.Scheduler.CircuitBreakerThreshold,
			AutoResumeCooldown:      time.Duration(cfg.Scheduler.AutoResumeCooldownHours) * time.Hour,
		}, logger.Logger)
		execStore := schedule.NewExecutionStore(database)
		jobQueue := queue.New(cfg.Scheduler.MaxConcurrentJobs)

		dispatcher := notify.New(logSink{}, notify.Config{
			BufferSize:    cfg.Notify.BufferSize,
			RatePerSecond: cfg.Notify.RatePerSecond,
		}, logger.Logger)
		dispatcher.Start()
		defer dispatcher.Stop()

		syncer := deltasync.NewSyncer(database)
		registry := executor.NewRegistry()
		registry.Register(schedule.JobTypeHealthCheck, executor.HealthCheckHandler(database))
		registry.Register(schedule.JobTypeBackupDatabase, executor.BackupHandler(cfg.Database.Path, cfg.Database.BackupDir))
		registry.Register(schedule.JobTypeCleanup, executor.CleanupHandler(
			execStore,
			time.Duration(cfg.Scheduler.ExecutionRetentionDays)*24*time.Hour,
			syncer,
		))
		registry.Register(schedule.JobTypeProfileExecution, profileExecutionHandler(database, syncer, dispatcher))

		exec := executor.New(jobStore, execStore, registry, dispatcher, executor.Config{
			ServerNode: cfg.Scheduler.ServerNode,
		}, logger.Logger)

		runner := executor.NewRunner(ctx, jobStore, jobQueue, exec, executor.RunnerConfig{
			PollInterval:          time.Duration(cfg.Scheduler.PollIntervalSeconds) * time.Second,
			ReEnableSweepInterval: time.Duration(cfg.Scheduler.ReEnableSweepSeconds) * time.Second,
		}, logger.Logger)
		runner.Start()
		defer runner.Stop()

		if configPath != "" {
			watcher, werr := config.NewWatcher(configPath)
			if werr != nil {
				logger.Warnw("Config watcher unavailable", "path", configPath, "error", werr)
			} else {
				watcher.OnReload(func(next *config.Config) error {
					logger.Infow("Configuration reloaded",
						"poll_interval_seconds", next.Scheduler.PollIntervalSeconds,
						"max_concurrent_jobs", next.Scheduler.MaxConcurrentJobs)
					return nil
				})
				watcher.Start()
				defer watcher.Stop()
			}
		}

		fmt.Println("Reef daemon started")
		fmt.Printf("  Database: %s\n", cfg.Database.Path)
		fmt.Printf("  Workers: %d\n", cfg.Scheduler.MaxConcurrentJobs)
		fmt.Printf("  Poll interval: %ds\n", cfg.Scheduler.PollIntervalSeconds)
		fmt.Printf("  Circuit breaker threshold: %d\n", cfg.Scheduler.CircuitBreakerThreshold)
		fmt.Println("\nPress Ctrl+C for graceful shutdown")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Println("\nShutting down...")
		cancel()
		return nil
	},
}

func init() {
	ServeCmd.Flags().Int("workers", 0, "Maximum concurrently executing jobs (overrides config)")
	ServeCmd.Flags().String("config", "", "Config file to watch for live reload")
}

// profileExecutionHandler adapts the pipeline orchestrator to the job
// executor. The orchestrator is only built when the host registered its
// collaborators.
func profileExecutionHandler(database *sql.DB, syncer *deltasync.Syncer, dispatcher *notify.Dispatcher) executor.Handler {
	var orch *pipeline.Orchestrator
	if profileDeps != nil {
		deps := *profileDeps
		if deps.Store == nil {
			deps.Store = pipeline.NewStore(database)
		}
		if deps.Delta == nil {
			deps.Delta = syncer
		}
		if deps.Notifier == nil {
			deps.Notifier = executionNotifier{dispatcher}
		}
		orch = pipeline.New(deps, pipeline.Config{}, logger.Logger)
	}

	return func(ctx context.Context, job *schedule.Job, exec *schedule.JobExecution) (*executor.Result, error) {
		if orch == nil {
			return nil, fmt.Errorf("no profile pipeline registered, job %s cannot run", job.ID)
		}
		result, err := orch.Execute(ctx, job.ProfileID, nil, exec.ID)
		if err != nil {
			return nil, err
		}
		return &executor.Result{
			Output:        result.OutputMessage,
			RowsProcessed: int64(result.RowCount),
		}, nil
	}
}

// executionNotifier bridges orchestrator outcomes onto the dispatcher.
type executionNotifier struct {
	dispatcher *notify.Dispatcher
}

func (n executionNotifier) ExecutionSucceeded(profileID, executionID string) {
	n.dispatcher.Publish(notify.Event{
		Kind:        notify.KindDeliveryDone,
		ExecutionID: executionID,
		Message:     "profile " + profileID + " delivered",
		Time:        time.Now().UTC(),
	})
}

func (n executionNotifier) ExecutionFailed(profileID, executionID, message string) {
	n.dispatcher.Publish(notify.Event{
		Kind:        notify.KindJobFailed,
		ExecutionID: executionID,
		Message:     "profile " + profileID + " failed: " + message,
		Time:        time.Now().UTC(),
	})
}

// logSink writes events to the structured log. Hosts needing webhooks or
// email wire their own Sink through the notify package.
type logSink struct{}

func (logSink) Send(ctx context.Context, ev notify.Event) error {
	logger.Infow("Notification",
		"kind", ev.Kind,
		"job_id", ev.JobID,
		"execution_id", ev.ExecutionID,
		"message", ev.Message)
	return nil
}
