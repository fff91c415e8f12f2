package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/melosso/reef/schedule"
)

// StateCleaner purges aged rows from an auxiliary store. Implemented by
// the delta-sync state store.
type StateCleaner interface {
	CleanupOldState(olderThan time.Duration, now time.Time) (int64, error)
}

// CleanupHandler returns the handler for Cleanup jobs: execution history
// past retention is deleted, and any extra cleaners run with the same
// window. A nil cleaner is skipped.
func CleanupHandler(execs *schedule.ExecutionStore, retention time.Duration, cleaners ...StateCleaner) Handler {
	return func(ctx context.Context, job *schedule.Job, exec *schedule.JobExecution) (*Result, error) {
		now := time.Now().UTC()

		deleted, err := execs.CleanupOldExecutions(retention, now)
		if err != nil {
			return nil, err
		}

		var extra int64
		for _, cleaner := range cleaners {
			if cleaner == nil {
				continue
			}
			n, err := cleaner.CleanupOldState(retention, now)
			if err != nil {
				return nil, err
			}
			extra += n
		}

		out, _ := json.Marshal(map[string]int64{
			"executions_deleted": deleted,
			"state_rows_deleted": extra,
		})
		return &Result{Output: string(out), RowsProcessed: deleted + extra}, nil
	}
}
