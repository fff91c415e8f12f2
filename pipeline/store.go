package pipeline

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/melosso/reef/errors"
)

// Store persists profile executions and their splits.
type Store struct {
	db *sql.DB
}

// NewStore creates an execution store on the shared database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateExecution inserts a Running execution row. Called before any
// validation so even attempts against missing profiles are recorded.
func (s *Store) CreateExecution(profileID, jobExecutionID string, startedAt time.Time) (*ProfileExecution, error) {
	startedAt = startedAt.UTC()
	exec := &ProfileExecution{
		ID:             "px_" + uuid.NewString(),
		ProfileID:      profileID,
		JobExecutionID: jobExecutionID,
		Status:         ExecStatusRunning,
		StartedAt:      startedAt,
		CreatedAt:      startedAt,
		UpdatedAt:      startedAt,
	}

	_, err := s.db.Exec(`
		INSERT INTO profile_executions (
			id, profile_id, job_execution_id, status, started_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exec.ID,
		exec.ProfileID,
		nullIfEmpty(exec.JobExecutionID),
		exec.Status,
		startedAt.Format(time.RFC3339),
		startedAt.Format(time.RFC3339),
		startedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create execution for profile %s", profileID)
	}
	return exec, nil
}

// FinalizeExecution applies the single terminal mutation: status, counts,
// output, phase results and timing. Running rows only.
func (s *Store) FinalizeExecution(exec *ProfileExecution) error {
	if exec.Status == ExecStatusRunning {
		return errors.Newf("execution %s: finalize requires a terminal status", exec.ID)
	}
	now := time.Now().UTC()
	if exec.CompletedAt == nil {
		exec.CompletedAt = &now
	}

	result, err := s.db.Exec(`
		UPDATE profile_executions SET
			status = ?,
			row_count = ?,
			output_path = ?,
			output_message = ?,
			execution_time_ms = ?,
			error_message = ?,
			preprocess_status = ?, preprocess_started = ?, preprocess_completed = ?,
			preprocess_error = ?, preprocess_time_ms = ?,
			postprocess_status = ?, postprocess_started = ?, postprocess_completed = ?,
			postprocess_error = ?, postprocess_time_ms = ?,
			approval_status = ?,
			was_split = ?, split_count = ?, split_success_count = ?, split_failure_count = ?,
			completed_at = ?,
			updated_at = ?
		WHERE id = ? AND status = ?`,
		exec.Status,
		exec.RowCount,
		nullIfEmpty(exec.OutputPath),
		nullIfEmpty(exec.OutputMessage),
		exec.ExecutionTimeMs,
		nullIfEmpty(exec.ErrorMessage),
		nullIfEmpty(exec.PreProcess.Status),
		timeOrNil(exec.PreProcess.Started),
		timeOrNil(exec.PreProcess.Completed),
		nullIfEmpty(exec.PreProcess.Error),
		exec.PreProcess.TimeMs,
		nullIfEmpty(exec.PostProcess.Status),
		timeOrNil(exec.PostProcess.Started),
		timeOrNil(exec.PostProcess.Completed),
		nullIfEmpty(exec.PostProcess.Error),
		exec.PostProcess.TimeMs,
		nullIfEmpty(exec.ApprovalStatus),
		exec.WasSplit,
		exec.SplitCount,
		exec.SplitSuccessCount,
		exec.SplitFailureCount,
		exec.CompletedAt.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		exec.ID,
		ExecStatusRunning,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to finalize execution %s", exec.ID)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Newf("execution %s is not running, refusing second terminal update", exec.ID)
	}
	return nil
}

// UpdateDeltaCounters is the one allowed post-hoc mutation: delta-sync
// metrics can land after the terminal status.
func (s *Store) UpdateDeltaCounters(exec *ProfileExecution) error {
	_, err := s.db.Exec(`
		UPDATE profile_executions SET
			new_rows = ?, changed_rows = ?, deleted_rows = ?,
			unchanged_rows = ?, total_hashed_rows = ?,
			updated_at = ?
		WHERE id = ?`,
		exec.NewRows,
		exec.ChangedRows,
		exec.DeletedRows,
		exec.UnchangedRows,
		exec.TotalHashedRows,
		time.Now().UTC().Format(time.RFC3339),
		exec.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update delta counters for execution %s", exec.ID)
	}
	return nil
}

// GetExecution retrieves a profile execution by id.
func (s *Store) GetExecution(id string) (*ProfileExecution, error) {
	row := s.db.QueryRow(`
		SELECT id, profile_id, job_execution_id, status, row_count,
		       output_path, output_message, execution_time_ms, error_message,
		       preprocess_status, preprocess_started, preprocess_completed,
		       preprocess_error, preprocess_time_ms,
		       postprocess_status, postprocess_started, postprocess_completed,
		       postprocess_error, postprocess_time_ms,
		       approval_status,
		       new_rows, changed_rows, deleted_rows, unchanged_rows, total_hashed_rows,
		       was_split, split_count, split_success_count, split_failure_count,
		       started_at, completed_at, created_at, updated_at
		FROM profile_executions WHERE id = ?`, id)

	exec, err := scanProfileExecution(row)
	if err == sql.ErrNoRows {
		return nil, errors.Newf("profile execution not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get profile execution %s", id)
	}
	return exec, nil
}

// LatestExecution returns the most recent execution for a profile, or nil
// when it has never run. Timestamps have one-second granularity, so ties
// break on insertion order.
func (s *Store) LatestExecution(profileID string) (*ProfileExecution, error) {
	row := s.db.QueryRow(`
		SELECT id, profile_id, job_execution_id, status, row_count,
		       output_path, output_message, execution_time_ms, error_message,
		       preprocess_status, preprocess_started, preprocess_completed,
		       preprocess_error, preprocess_time_ms,
		       postprocess_status, postprocess_started, postprocess_completed,
		       postprocess_error, postprocess_time_ms,
		       approval_status,
		       new_rows, changed_rows, deleted_rows, unchanged_rows, total_hashed_rows,
		       was_split, split_count, split_success_count, split_failure_count,
		       started_at, completed_at, created_at, updated_at
		FROM profile_executions
		WHERE profile_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1`, profileID)

	exec, err := scanProfileExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get latest execution for profile %s", profileID)
	}
	return exec, nil
}

// CreateSplit inserts a Running split row under an execution.
func (s *Store) CreateSplit(executionID, splitKey string, rowCount int, startedAt time.Time) (*ExecutionSplit, error) {
	split := &ExecutionSplit{
		ID:                 "sp_" + uuid.NewString(),
		ProfileExecutionID: executionID,
		SplitKey:           splitKey,
		RowCount:           rowCount,
		Status:             ExecStatusRunning,
		StartedAt:          startedAt.UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO profile_execution_splits (
			id, profile_execution_id, split_key, row_count, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		split.ID,
		split.ProfileExecutionID,
		split.SplitKey,
		split.RowCount,
		split.Status,
		split.StartedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create split %q for execution %s", splitKey, executionID)
	}
	return split, nil
}

// FinishSplit records a split's terminal outcome.
func (s *Store) FinishSplit(split *ExecutionSplit) error {
	now := time.Now().UTC()
	if split.CompletedAt == nil {
		split.CompletedAt = &now
	}
	_, err := s.db.Exec(`
		UPDATE profile_execution_splits SET
			status = ?, output_path = ?, file_size_bytes = ?,
			error_message = ?, completed_at = ?
		WHERE id = ?`,
		split.Status,
		nullIfEmpty(split.OutputPath),
		split.FileSizeBytes,
		nullIfEmpty(split.ErrorMessage),
		split.CompletedAt.UTC().Format(time.RFC3339),
		split.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to finish split %s", split.ID)
	}
	return nil
}

// ListSplits returns all splits under an execution in creation order.
func (s *Store) ListSplits(executionID string) ([]*ExecutionSplit, error) {
	rows, err := s.db.Query(`
		SELECT id, profile_execution_id, split_key, row_count, status,
		       output_path, file_size_bytes, error_message,
		       started_at, completed_at
		FROM profile_execution_splits
		WHERE profile_execution_id = ?
		ORDER BY rowid ASC`, executionID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list splits for execution %s", executionID)
	}
	defer rows.Close()

	var splits []*ExecutionSplit
	for rows.Next() {
		var sp ExecutionSplit
		var outputPath, errorMessage, completedAt sql.NullString
		var startedAt string
		if err := rows.Scan(
			&sp.ID,
			&sp.ProfileExecutionID,
			&sp.SplitKey,
			&sp.RowCount,
			&sp.Status,
			&outputPath,
			&sp.FileSizeBytes,
			&errorMessage,
			&startedAt,
			&completedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan split")
		}
		sp.OutputPath = outputPath.String
		sp.ErrorMessage = errorMessage.String
		sp.StartedAt, err = time.Parse(time.RFC3339, startedAt)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse started_at for split %s", sp.ID)
		}
		if completedAt.Valid && completedAt.String != "" {
			t, err := time.Parse(time.RFC3339, completedAt.String)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to parse completed_at for split %s", sp.ID)
			}
			sp.CompletedAt = &t
		}
		splits = append(splits, &sp)
	}
	return splits, rows.Err()
}

func scanProfileExecution(row *sql.Row) (*ProfileExecution, error) {
	var exec ProfileExecution
	var jobExecutionID, outputPath, outputMessage, errorMessage sql.NullString
	var preStatus, preStarted, preCompleted, preError sql.NullString
	var postStatus, postStarted, postCompleted, postError sql.NullString
	var approvalStatus, completedAt sql.NullString
	var startedAt, createdAt, updatedAt string

	err := row.Scan(
		&exec.ID,
		&exec.ProfileID,
		&jobExecutionID,
		&exec.Status,
		&exec.RowCount,
		&outputPath,
		&outputMessage,
		&exec.ExecutionTimeMs,
		&errorMessage,
		&preStatus,
		&preStarted,
		&preCompleted,
		&preError,
		&exec.PreProcess.TimeMs,
		&postStatus,
		&postStarted,
		&postCompleted,
		&postError,
		&exec.PostProcess.TimeMs,
		&approvalStatus,
		&exec.NewRows,
		&exec.ChangedRows,
		&exec.DeletedRows,
		&exec.UnchangedRows,
		&exec.TotalHashedRows,
		&exec.WasSplit,
		&exec.SplitCount,
		&exec.SplitSuccessCount,
		&exec.SplitFailureCount,
		&startedAt,
		&completedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.JobExecutionID = jobExecutionID.String
	exec.OutputPath = outputPath.String
	exec.OutputMessage = outputMessage.String
	exec.ErrorMessage = errorMessage.String
	exec.ApprovalStatus = approvalStatus.String
	exec.PreProcess.Status = preStatus.String
	exec.PreProcess.Error = preError.String
	exec.PostProcess.Status = postStatus.String
	exec.PostProcess.Error = postError.String

	exec.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse started_at for execution %s", exec.ID)
	}
	exec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	exec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{completedAt, &exec.CompletedAt},
		{preStarted, &exec.PreProcess.Started},
		{preCompleted, &exec.PreProcess.Completed},
		{postStarted, &exec.PostProcess.Started},
		{postCompleted, &exec.PostProcess.Completed},
	} {
		if !f.src.Valid || f.src.String == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, f.src.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse timestamp for execution %s", exec.ID)
		}
		*f.dst = &t
	}

	return &exec, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
