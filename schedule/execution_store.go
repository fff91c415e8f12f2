package schedule

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/melosso/reef/errors"
)

// ExecutionStore handles persistence of job execution history.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store.
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

const executionColumns = `id, job_id, started_at, completed_at, status,
	attempt_number, triggered_by, server_node,
	execution_context, output_data, error_message, stack_trace,
	bytes_processed, rows_processed, created_at, updated_at`

// StartExecution creates a Running execution record for a job and returns
// it. The id is generated here.
func (s *ExecutionStore) StartExecution(jobID, triggeredBy, serverNode string, startedAt time.Time) (*JobExecution, error) {
	startedAt = startedAt.UTC()
	exec := &JobExecution{
		ID:            "ex_" + uuid.NewString(),
		JobID:         jobID,
		StartedAt:     startedAt,
		Status:        ExecutionRunning,
		AttemptNumber: 1,
		TriggeredBy:   triggeredBy,
		ServerNode:    serverNode,
		CreatedAt:     startedAt,
		UpdatedAt:     startedAt,
	}

	query := `
		INSERT INTO job_executions (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		exec.ID,
		exec.JobID,
		startedAt.Format(time.RFC3339),
		nil,
		exec.Status,
		exec.AttemptNumber,
		nullableString(exec.TriggeredBy),
		nullableString(exec.ServerNode),
		nil,
		nil,
		nil,
		nil,
		0,
		0,
		startedAt.Format(time.RFC3339),
		startedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create execution for job %s", jobID)
	}
	return exec, nil
}

// FinishExecution applies the single terminal update to a running
// execution. Finishing an already-finished execution is an error, so
// retries and races cannot rewrite history.
func (s *ExecutionStore) FinishExecution(exec *JobExecution) error {
	if !exec.Status.Terminal() {
		return errors.Newf("execution %s: finish requires a terminal status, got %s", exec.ID, exec.Status)
	}
	now := time.Now().UTC()
	if exec.CompletedAt == nil {
		exec.CompletedAt = &now
	}

	query := `
		UPDATE job_executions
		SET completed_at = ?,
		    status = ?,
		    attempt_number = ?,
		    output_data = ?,
		    error_message = ?,
		    stack_trace = ?,
		    bytes_processed = ?,
		    rows_processed = ?,
		    updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := s.db.Exec(query,
		exec.CompletedAt.UTC().Format(time.RFC3339),
		exec.Status,
		exec.AttemptNumber,
		nullableString(exec.OutputData),
		nullableString(exec.ErrorMessage),
		nullableString(exec.StackTrace),
		exec.BytesProcessed,
		exec.RowsProcessed,
		now.Format(time.RFC3339),
		exec.ID,
		ExecutionRunning,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to finish execution %s", exec.ID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Newf("execution %s is not running, refusing terminal update", exec.ID)
	}
	return nil
}

// UpdateAttempt bumps the attempt counter while a run retries internally.
func (s *ExecutionStore) UpdateAttempt(executionID string, attempt int) error {
	_, err := s.db.Exec(`
		UPDATE job_executions SET attempt_number = ?, updated_at = ?
		WHERE id = ?`,
		attempt, time.Now().UTC().Format(time.RFC3339), executionID)
	if err != nil {
		return errors.Wrapf(err, "failed to update attempt for execution %s", executionID)
	}
	return nil
}

// GetExecution retrieves a single execution by id.
func (s *ExecutionStore) GetExecution(id string) (*JobExecution, error) {
	row := s.db.QueryRow(`SELECT `+executionColumns+` FROM job_executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, errors.Newf("execution not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get execution %s", id)
	}
	return exec, nil
}

// LatestExecution returns the most recent execution for a job, or nil when
// the job has never run. Timestamps have one-second granularity, so ties
// break on insertion order.
func (s *ExecutionStore) LatestExecution(jobID string) (*JobExecution, error) {
	row := s.db.QueryRow(`
		SELECT `+executionColumns+`
		FROM job_executions
		WHERE job_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1`, jobID)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get latest execution for job %s", jobID)
	}
	return exec, nil
}

// ListExecutions returns a page of execution history for a job, newest
// first.
func (s *ExecutionStore) ListExecutions(jobID string, limit, offset int) ([]*JobExecution, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(`
		SELECT `+executionColumns+`
		FROM job_executions
		WHERE job_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, jobID, limit, offset)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list executions for job %s", jobID)
	}
	defer rows.Close()

	var execs []*JobExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// CountRunning returns the number of currently running executions for a
// job.
func (s *ExecutionStore) CountRunning(jobID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM job_executions
		WHERE job_id = ? AND status = ?`, jobID, ExecutionRunning).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count running executions for job %s", jobID)
	}
	return n, nil
}

// CleanupOldExecutions deletes finished executions older than the
// retention window. Running executions are never removed. Returns the
// number of rows deleted.
func (s *ExecutionStore) CleanupOldExecutions(retention time.Duration, now time.Time) (int64, error) {
	cutoff := now.UTC().Add(-retention).Format(time.RFC3339)
	result, err := s.db.Exec(`
		DELETE FROM job_executions
		WHERE status != ? AND started_at < ?`,
		ExecutionRunning, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up old executions")
	}
	return result.RowsAffected()
}

func scanExecution(row rowScanner) (*JobExecution, error) {
	var exec JobExecution
	var startedAt, createdAt, updatedAt string
	var completedAt sql.NullString
	var triggeredBy, serverNode, execContext, outputData sql.NullString
	var errorMessage, stackTrace sql.NullString

	err := row.Scan(
		&exec.ID,
		&exec.JobID,
		&startedAt,
		&completedAt,
		&exec.Status,
		&exec.AttemptNumber,
		&triggeredBy,
		&serverNode,
		&execContext,
		&outputData,
		&errorMessage,
		&stackTrace,
		&exec.BytesProcessed,
		&exec.RowsProcessed,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.TriggeredBy = triggeredBy.String
	exec.ServerNode = serverNode.String
	exec.ExecutionContext = execContext.String
	exec.OutputData = outputData.String
	exec.ErrorMessage = errorMessage.String
	exec.StackTrace = stackTrace.String

	exec.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse started_at for execution %s", exec.ID)
	}
	exec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for execution %s", exec.ID)
	}
	exec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for execution %s", exec.ID)
	}
	if completedAt.Valid && completedAt.String != "" {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse completed_at for execution %s", exec.ID)
		}
		exec.CompletedAt = &t
	}

	return &exec, nil
}
