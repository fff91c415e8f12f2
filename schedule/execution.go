package schedule

import "time"

// ExecutionStatus is the lifecycle state of a single job run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "Running"
	ExecutionCompleted ExecutionStatus = "Completed"
	ExecutionFailed    ExecutionStatus = "Failed"
	ExecutionCancelled ExecutionStatus = "Cancelled"
	ExecutionTimedOut  ExecutionStatus = "TimedOut"
)

// Terminal reports whether the status is final. A finished execution is
// immutable: the store rejects a second terminal transition.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimedOut:
		return true
	}
	return false
}

// TriggeredBy values recorded on an execution.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerResume   = "resume"
)

// JobExecution is one run of a job. A record is created in Running state
// when the run starts and receives exactly one terminal update when it
// finishes.
type JobExecution struct {
	ID            string
	JobID         string
	StartedAt     time.Time
	CompletedAt   *time.Time
	Status        ExecutionStatus
	AttemptNumber int
	TriggeredBy   string
	ServerNode    string

	// ExecutionContext carries run parameters as JSON, OutputData the
	// run's result summary.
	ExecutionContext string
	OutputData       string

	ErrorMessage string
	StackTrace   string

	BytesProcessed int64
	RowsProcessed  int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Duration returns the run time, or time-so-far for a running execution
// relative to now.
func (e *JobExecution) Duration(now time.Time) time.Duration {
	if e.CompletedAt != nil {
		return e.CompletedAt.Sub(e.StartedAt)
	}
	return now.Sub(e.StartedAt)
}
