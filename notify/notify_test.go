package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melosso/reef/errors"
	"github.com/melosso/reef/schedule"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	fail   bool
}

func (s *captureSink) Send(ctx context.Context, ev Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.fail {
		return errors.New("sink down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kinds []string
	for _, ev := range s.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func TestDispatcherDeliversEvents(t *testing.T) {
	sink := &captureSink{}
	d := New(sink, Config{BufferSize: 8}, nil)
	d.Start()
	defer d.Stop()

	job := &schedule.Job{ID: "jb_1", Name: "nightly export"}
	exec := &schedule.JobExecution{ID: "ex_1", ErrorMessage: "boom"}
	d.JobStarted(job, exec)
	d.JobSucceeded(job, exec)
	d.JobFailed(job, exec)

	require.Eventually(t, func() bool {
		return d.Sent() == 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{KindJobStarted, KindJobSucceeded, KindJobFailed}, sink.kinds())
	sink.mu.Lock()
	assert.Equal(t, "boom", sink.events[2].Message)
	assert.False(t, sink.events[0].Time.IsZero())
	sink.mu.Unlock()
}

func TestPublishNeverBlocksWhenFull(t *testing.T) {
	sink := &captureSink{block: make(chan struct{})}
	d := New(sink, Config{BufferSize: 2}, nil)
	d.Start()
	defer d.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			d.Publish(Event{Kind: KindJobStarted, JobID: "jb_flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
	assert.Greater(t, d.Dropped(), uint64(0))
	close(sink.block)
}

func TestSinkFailureIsSwallowed(t *testing.T) {
	sink := &captureSink{fail: true}
	d := New(sink, Config{BufferSize: 4}, nil)
	d.Start()
	defer d.Stop()

	// Must not panic or surface anywhere; the event is simply lost.
	d.Publish(Event{Kind: KindJobFailed, JobID: "jb_1"})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, d.Sent())
}

func TestNilSinkIsNoop(t *testing.T) {
	d := New(nil, Config{}, nil)
	d.Start()
	defer d.Stop()

	d.Publish(Event{Kind: KindJobStarted})
	assert.Zero(t, d.Dropped())
	assert.Zero(t, d.Sent())
}

func TestRateLimiterThrottles(t *testing.T) {
	sink := &captureSink{}
	d := New(sink, Config{BufferSize: 16, RatePerSecond: 20}, nil)
	d.Start()
	defer d.Stop()

	start := time.Now()
	for i := 0; i < 5; i++ {
		d.Publish(Event{Kind: KindJobStarted})
	}
	require.Eventually(t, func() bool {
		return d.Sent() == 5
	}, 3*time.Second, 5*time.Millisecond)

	// 5 events at 20/s with burst 1 needs at least ~200ms.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}
