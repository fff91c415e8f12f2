// Package notify delivers job and execution events to an external sink.
// Delivery is strictly fire-and-forget: a slow or broken sink can never
// stall or fail an execution, it can only cause drops.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/melosso/reef/schedule"
)

// Event kinds.
const (
	KindJobStarted      = "job.started"
	KindJobSucceeded    = "job.succeeded"
	KindJobFailed       = "job.failed"
	KindBreakerTripped  = "job.breaker_tripped"
	KindBreakerResumed  = "job.breaker_resumed"
	KindDeliveryDone    = "profile.delivered"
	KindApprovalPending = "profile.approval_pending"
)

// Event is one notification.
type Event struct {
	Kind        string
	JobID       string
	JobName     string
	ExecutionID string
	Message     string
	Time        time.Time
}

// Sink receives events. Implementations may block; the dispatcher worker
// absorbs that, not the callers.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// Config tunes the dispatcher.
type Config struct {
	// BufferSize is the queue between callers and the sink worker.
	BufferSize int
	// RatePerSecond limits outbound sends. Zero or negative means
	// unlimited.
	RatePerSecond float64
}

// Dispatcher fans events from callers to the sink through a bounded
// buffer. When the buffer is full new events are dropped and counted.
type Dispatcher struct {
	sink    Sink
	events  chan Event
	limiter *rate.Limiter
	log     *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dropped uint64
	sent    uint64
}

// New creates a dispatcher. A nil sink makes every publish a no-op drop.
func New(sink Sink, cfg Config, log *zap.SugaredLogger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sink:    sink,
		events:  make(chan Event, cfg.BufferSize),
		limiter: limiter,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the sink worker.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.worker()
}

// Stop drains nothing: buffered events not yet sent are discarded. Safe
// to call once.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

// Dropped returns how many events were discarded because the buffer was
// full.
func (d *Dispatcher) Dropped() uint64 {
	return atomic.LoadUint64(&d.dropped)
}

// Sent returns how many events reached the sink.
func (d *Dispatcher) Sent() uint64 {
	return atomic.LoadUint64(&d.sent)
}

// Publish queues an event without ever blocking the caller.
func (d *Dispatcher) Publish(ev Event) {
	if d.sink == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	select {
	case d.events <- ev:
	default:
		n := atomic.AddUint64(&d.dropped, 1)
		if d.log != nil && n%100 == 1 {
			d.log.Warnw("Notification buffer full, dropping events",
				"dropped_total", n,
				"kind", ev.Kind)
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev := <-d.events:
			if d.limiter != nil {
				if err := d.limiter.Wait(d.ctx); err != nil {
					return
				}
			}
			if err := d.sink.Send(d.ctx, ev); err != nil {
				if d.log != nil {
					d.log.Warnw("Notification send failed",
						"kind", ev.Kind,
						"job_id", ev.JobID,
						"error", err)
				}
				continue
			}
			atomic.AddUint64(&d.sent, 1)
		}
	}
}

// JobStarted implements the executor's notifier hook.
func (d *Dispatcher) JobStarted(job *schedule.Job, exec *schedule.JobExecution) {
	d.Publish(Event{
		Kind:        KindJobStarted,
		JobID:       job.ID,
		JobName:     job.Name,
		ExecutionID: exec.ID,
	})
}

// JobSucceeded implements the executor's notifier hook.
func (d *Dispatcher) JobSucceeded(job *schedule.Job, exec *schedule.JobExecution) {
	d.Publish(Event{
		Kind:        KindJobSucceeded,
		JobID:       job.ID,
		JobName:     job.Name,
		ExecutionID: exec.ID,
	})
}

// JobFailed implements the executor's notifier hook.
func (d *Dispatcher) JobFailed(job *schedule.Job, exec *schedule.JobExecution) {
	d.Publish(Event{
		Kind:        KindJobFailed,
		JobID:       job.ID,
		JobName:     job.Name,
		ExecutionID: exec.ID,
		Message:     exec.ErrorMessage,
	})
}
