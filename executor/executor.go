// Package executor runs jobs: preflight checks, retry with backoff,
// timeout enforcement and terminal bookkeeping against the job and
// execution stores.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/melosso/reef/errors"
	"github.com/melosso/reef/schedule"
)

// Result is what a handler produces on success.
type Result struct {
	Output         string
	BytesProcessed int64
	RowsProcessed  int64
}

// Handler executes one job type. The context carries the per-job timeout;
// handlers are expected to respect cancellation.
type Handler func(ctx context.Context, job *schedule.Job, exec *schedule.JobExecution) (*Result, error)

// Registry maps job types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[schedule.JobType]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[schedule.JobType]Handler)}
}

// Register binds a handler to a job type, replacing any existing binding.
func (r *Registry) Register(jobType schedule.JobType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Get returns the handler for a job type, or nil when none is registered.
func (r *Registry) Get(jobType schedule.JobType) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}

// Notifier receives execution lifecycle events. Implementations must not
// block and must not fail the execution path.
type Notifier interface {
	JobStarted(job *schedule.Job, exec *schedule.JobExecution)
	JobSucceeded(job *schedule.Job, exec *schedule.JobExecution)
	JobFailed(job *schedule.Job, exec *schedule.JobExecution)
}

// nopNotifier is used when no notifier is wired.
type nopNotifier struct{}

func (nopNotifier) JobStarted(*schedule.Job, *schedule.JobExecution)   {}
func (nopNotifier) JobSucceeded(*schedule.Job, *schedule.JobExecution) {}
func (nopNotifier) JobFailed(*schedule.Job, *schedule.JobExecution)    {}

// Config tunes the executor.
type Config struct {
	// ServerNode identifies this process in execution records.
	ServerNode string
	// RetryInitialWait is the first intra-run retry delay. Defaults to
	// one second, doubling per attempt.
	RetryInitialWait time.Duration
}

// Executor owns the run lifecycle of a single job trigger.
type Executor struct {
	jobs     *schedule.Store
	execs    *schedule.ExecutionStore
	registry *Registry
	notifier Notifier
	cfg      Config
	log      *zap.SugaredLogger
}

// New creates an executor. A nil notifier disables notifications.
func New(jobs *schedule.Store, execs *schedule.ExecutionStore, registry *Registry, notifier Notifier, cfg Config, log *zap.SugaredLogger) *Executor {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if cfg.RetryInitialWait <= 0 {
		cfg.RetryInitialWait = time.Second
	}
	return &Executor{
		jobs:     jobs,
		execs:    execs,
		registry: registry,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

// Trigger runs a job through its full lifecycle: preflight, execution
// record, retry loop, terminal update and job bookkeeping. It returns the
// finished execution record. Preflight failures return an error without
// creating any execution record.
//
// Trigger is synchronous and blocks until the job reaches a terminal
// state; callers wanting fire-and-forget run it from their own goroutine,
// which is how the Runner's workers use it.
func (e *Executor) Trigger(ctx context.Context, jobID, triggeredBy string) (*schedule.JobExecution, error) {
	job, err := e.jobs.GetJob(jobID)
	if err != nil {
		return nil, err
	}

	if err := e.preflight(job); err != nil {
		return nil, err
	}

	exec, err := e.execs.StartExecution(job.ID, triggeredBy, e.cfg.ServerNode, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := e.jobs.MarkRunning(job.ID); err != nil {
		if e.log != nil {
			e.log.Warnw("Failed to mark job running", "job_id", job.ID, "error", err)
		}
	}
	e.notifier.JobStarted(job, exec)

	e.run(ctx, job, exec)
	return exec, nil
}

// preflight rejects a trigger before any state is written.
func (e *Executor) preflight(job *schedule.Job) error {
	if !job.IsEnabled {
		return errors.Newf("job %s is disabled", job.ID)
	}

	if !job.AllowConcurrent {
		latest, err := e.execs.LatestExecution(job.ID)
		if err != nil {
			return err
		}
		if latest != nil && latest.Status == schedule.ExecutionRunning {
			return errors.Newf("job %s is already running (execution %s)", job.ID, latest.ID)
		}
	}

	for _, depID := range job.DependsOn() {
		latest, err := e.execs.LatestExecution(depID)
		if err != nil {
			return err
		}
		if latest == nil {
			return errors.Newf("job %s depends on %s which has never run", job.ID, depID)
		}
		if latest.Status != schedule.ExecutionCompleted {
			return errors.Newf("job %s depends on %s whose last run is %s",
				job.ID, depID, latest.Status)
		}
	}
	return nil
}

// run executes the handler with retries and records the outcome.
func (e *Executor) run(ctx context.Context, job *schedule.Job, exec *schedule.JobExecution) {
	runCtx := ctx
	var cancel context.CancelFunc
	if job.TimeoutMinutes > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutMinutes)*time.Minute)
		defer cancel()
	}

	handler := e.registry.Get(job.Type)

	var result *Result
	var runErr error
	if handler == nil {
		runErr = errors.Newf("no handler registered for job type %s", job.Type)
	} else {
		result, runErr = e.runWithRetry(runCtx, job, exec, handler)
	}

	finishedAt := time.Now().UTC()
	exec.CompletedAt = &finishedAt

	if runErr == nil {
		exec.Status = schedule.ExecutionCompleted
		if result != nil {
			exec.OutputData = result.Output
			exec.BytesProcessed = result.BytesProcessed
			exec.RowsProcessed = result.RowsProcessed
		}
	} else {
		exec.Status = schedule.ExecutionFailed
		if runCtx.Err() == context.DeadlineExceeded {
			exec.Status = schedule.ExecutionTimedOut
		} else if ctx.Err() == context.Canceled {
			exec.Status = schedule.ExecutionCancelled
		}
		exec.ErrorMessage = runErr.Error()
	}

	if err := e.execs.FinishExecution(exec); err != nil && e.log != nil {
		e.log.Errorw("Failed to finalize execution",
			"execution_id", exec.ID,
			"job_id", job.ID,
			"error", err)
	}

	if runErr == nil {
		if err := e.jobs.RecordSuccess(job.ID, finishedAt); err != nil && e.log != nil {
			e.log.Errorw("Failed to record job success", "job_id", job.ID, "error", err)
		}
		e.notifier.JobSucceeded(job, exec)
		if e.log != nil {
			e.log.Infow("Job completed",
				"job_id", job.ID,
				"execution_id", exec.ID,
				"attempts", exec.AttemptNumber,
				"duration", finishedAt.Sub(exec.StartedAt))
		}
		return
	}

	if err := e.jobs.RecordFailure(job.ID, finishedAt); err != nil && e.log != nil {
		e.log.Errorw("Failed to record job failure", "job_id", job.ID, "error", err)
	}
	e.notifier.JobFailed(job, exec)
	if e.log != nil {
		e.log.Warnw("Job failed",
			"job_id", job.ID,
			"execution_id", exec.ID,
			"attempts", exec.AttemptNumber,
			"error", runErr)
	}
}

// runWithRetry invokes the handler up to maxRetries+1 times with
// exponential waits between attempts. All attempts share one execution
// record; only the attempt counter moves.
func (e *Executor) runWithRetry(ctx context.Context, job *schedule.Job, exec *schedule.JobExecution, handler Handler) (*Result, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryInitialWait
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 5 * time.Minute
	bo.MaxElapsedTime = 0

	maxRetries := job.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var result *Result
	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			exec.AttemptNumber = attempt
			if err := e.execs.UpdateAttempt(exec.ID, attempt); err != nil && e.log != nil {
				e.log.Warnw("Failed to persist attempt count",
					"execution_id", exec.ID, "error", err)
			}
			if e.log != nil {
				e.log.Infow("Retrying job",
					"job_id", job.ID,
					"attempt", attempt,
					"max_attempts", maxRetries+1)
			}
		}
		var err error
		result, err = handler(ctx, job, exec)
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries)), ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}
