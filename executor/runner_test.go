package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melosso/reef/queue"
	"github.com/melosso/reef/schedule"
)

func TestRunnerExecutesDueJob(t *testing.T) {
	rig := newTestRig(t)
	rig.createJob(t, "jb_due", nil)

	// Make the job due now.
	past := time.Now().UTC().Add(-time.Minute)
	_, err := rig.db.Exec(`UPDATE jobs SET next_run_time = ? WHERE id = ?`,
		past.Format(time.RFC3339), "jb_due")
	require.NoError(t, err)

	var calls int32
	rig.registry.Register(schedule.JobTypeCustom, func(ctx context.Context, job *schedule.Job, exec *schedule.JobExecution) (*Result, error) {
		atomic.AddInt32(&calls, 1)
		return &Result{Output: "ran"}, nil
	})

	q := queue.New(2)
	runner := NewRunner(context.Background(), rig.jobs, q, rig.executor, RunnerConfig{
		PollInterval:          20 * time.Millisecond,
		ReEnableSweepInterval: time.Hour,
	}, nil)
	runner.Start()
	defer runner.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 1
	}, 5*time.Second, 10*time.Millisecond, "due job was never executed")

	require.Eventually(t, func() bool {
		job, err := rig.jobs.GetJob("jb_due")
		return err == nil && job.Status == schedule.StatusIdle && job.NextRunTime != nil
	}, 5*time.Second, 10*time.Millisecond, "job never returned to idle with a future next run")

	// The next run is in the future, so the poll loop must not re-run it.
	before := atomic.LoadInt32(&calls)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, atomic.LoadInt32(&calls))
}

func TestRunnerResetsRejectedJobs(t *testing.T) {
	rig := newTestRig(t)
	rig.createJob(t, "jb_blocked", func(j *schedule.Job) { j.DependsOnJobIDs = "jb_missing_dep" })
	rig.createJob(t, "jb_missing_dep", nil)

	past := time.Now().UTC().Add(-time.Minute)
	_, err := rig.db.Exec(`UPDATE jobs SET next_run_time = ? WHERE id = ?`,
		past.Format(time.RFC3339), "jb_blocked")
	require.NoError(t, err)

	q := queue.New(1)
	runner := NewRunner(context.Background(), rig.jobs, q, rig.executor, RunnerConfig{
		PollInterval:          20 * time.Millisecond,
		ReEnableSweepInterval: time.Hour,
	}, nil)
	runner.Start()
	defer runner.Stop()

	// The dependency gate rejects the trigger; the runner puts the job
	// back to Idle so later scans can retry once the dependency has run.
	require.Eventually(t, func() bool {
		job, err := rig.jobs.GetJob("jb_blocked")
		if err != nil {
			return false
		}
		latest, err := rig.execs.LatestExecution("jb_blocked")
		return err == nil && latest == nil && job.Status == schedule.StatusIdle
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunnerStopIsIdempotentAndGraceful(t *testing.T) {
	rig := newTestRig(t)
	q := queue.New(1)
	runner := NewRunner(context.Background(), rig.jobs, q, rig.executor, RunnerConfig{
		PollInterval:          10 * time.Millisecond,
		ReEnableSweepInterval: time.Hour,
	}, nil)
	runner.Start()

	done := make(chan struct{})
	go func() {
		runner.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}
