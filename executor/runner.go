package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/melosso/reef/queue"
	"github.com/melosso/reef/schedule"
)

// RunnerConfig tunes the poll loop.
type RunnerConfig struct {
	// PollInterval is how often due jobs are scanned. Default 15s.
	PollInterval time.Duration
	// ReEnableSweepInterval is how often tripped circuit-breaker jobs
	// are checked for cooldown expiry. Default 5m.
	ReEnableSweepInterval time.Duration
	// Workers is the number of dequeue goroutines. Defaults to the
	// queue's slot capacity.
	Workers int
}

// Runner is the scheduling service: a poll loop that scans for due jobs
// and feeds them through the queue to a pool of trigger workers.
type Runner struct {
	jobs     *schedule.Store
	queue    *queue.Queue
	executor *Executor
	cfg      RunnerConfig
	log      *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	lastPoll  time.Time
	pollCount int64
}

// NewRunner creates a runner bound to a parent context.
func NewRunner(ctx context.Context, jobs *schedule.Store, q *queue.Queue, exec *Executor, cfg RunnerConfig, log *zap.SugaredLogger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.ReEnableSweepInterval <= 0 {
		cfg.ReEnableSweepInterval = 5 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = q.Stats().Capacity
	}
	runnerCtx, cancel := context.WithCancel(ctx)
	return &Runner{
		jobs:     jobs,
		queue:    q,
		executor: exec,
		cfg:      cfg,
		log:      log,
		ctx:      runnerCtx,
		cancel:   cancel,
	}
}

// Start launches the poll loop, the re-enable sweep and the workers.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.pollLoop()

	r.wg.Add(1)
	go r.sweepLoop()

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	if r.log != nil {
		r.log.Infow("Scheduler runner started",
			"poll_interval", r.cfg.PollInterval,
			"workers", r.cfg.Workers)
	}
}

// Stop cancels all loops and waits for in-flight triggers to finish.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	if r.log != nil {
		r.log.Infow("Scheduler runner stopped")
	}
}

func (r *Runner) pollLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	// Scan immediately on startup rather than waiting a full interval.
	r.pollOnce()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce()
		}
	}
}

// pollOnce scans for due jobs and queues them. A job already queued or
// past its dispatch window stays untouched until the next scan.
func (r *Runner) pollOnce() {
	now := time.Now().UTC()
	r.mu.Lock()
	r.lastPoll = now
	r.pollCount++
	r.mu.Unlock()

	due, err := r.jobs.GetDueJobs(r.ctx, now)
	if err != nil {
		if r.log != nil {
			r.log.Errorw("Due-job scan failed", "error", err)
		}
		return
	}

	queued := 0
	for _, job := range due {
		if r.queue.Contains(job.ID) {
			continue
		}
		if err := r.queue.Enqueue(job.ID, job.Priority, schedule.TriggerSchedule); err != nil {
			if r.log != nil {
				r.log.Warnw("Failed to enqueue due job", "job_id", job.ID, "error", err)
			}
			continue
		}
		if err := r.jobs.UpdateStatus(job.ID, schedule.StatusScheduled); err != nil && r.log != nil {
			r.log.Warnw("Failed to mark job scheduled", "job_id", job.ID, "error", err)
		}
		queued++
	}

	if queued > 0 && r.log != nil {
		stats := r.queue.Stats()
		r.log.Infow("Queued due jobs",
			"queued_now", queued,
			"queue_depth", stats.Queued,
			"running", stats.Running)
	}
}

func (r *Runner) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.ReEnableSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			resumed, err := r.jobs.ReEnableCircuitBreakerJobs(r.ctx, time.Now().UTC())
			if err != nil {
				if r.log != nil {
					r.log.Errorw("Circuit breaker sweep failed", "error", err)
				}
				continue
			}
			if len(resumed) > 0 && r.log != nil {
				r.log.Infow("Circuit breaker sweep resumed jobs", "job_ids", resumed)
			}
		}
	}
}

// worker pulls queued jobs and triggers them. The queue slot is held for
// the full run including retries, so slot capacity equals the concurrency
// ceiling.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	for {
		item, err := r.queue.Dequeue(r.ctx)
		if err != nil {
			return // context cancelled
		}

		if _, err := r.executor.Trigger(r.ctx, item.JobID, item.TriggeredBy); err != nil {
			// Preflight rejection: put the job back to Idle so the next
			// scan can reconsider it.
			if statusErr := r.jobs.UpdateStatus(item.JobID, schedule.StatusIdle); statusErr != nil && r.log != nil {
				r.log.Warnw("Failed to reset rejected job",
					"job_id", item.JobID, "error", statusErr)
			}
			if r.log != nil {
				r.log.Infow("Job trigger rejected",
					"job_id", item.JobID,
					"worker", id,
					"reason", err)
			}
		}
		r.queue.ReleaseSlot()
	}
}

// LastPoll returns the time and count of poll cycles, for status display.
func (r *Runner) LastPoll() (time.Time, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPoll, r.pollCount
}
