package schedule

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/melosso/reef/errors"
)

// staleThreshold is how far past its next run a job can be before the due
// scan treats its schedule as corrupt and repairs it instead of running it.
const staleThreshold = 7 * 24 * time.Hour

// lockShards is the fixed size of the per-job lock table. Job ids hash onto
// a shard, so memory stays bounded no matter how many jobs exist.
const lockShards = 64

// StoreConfig carries the circuit breaker tuning for a job store.
type StoreConfig struct {
	// CircuitBreakerThreshold is the consecutive-failure count at which a
	// job with auto-pause enabled is tripped. Valid range 1-100.
	CircuitBreakerThreshold int

	// AutoResumeCooldown is how long a tripped job stays paused before the
	// re-enable sweep picks it up. Zero disables automatic resume.
	AutoResumeCooldown time.Duration
}

// Store persists job definitions and owns the job state machine around
// success, failure and the circuit breaker.
type Store struct {
	db  *sql.DB
	cfg StoreConfig
	log *zap.SugaredLogger

	locks [lockShards]sync.Mutex
}

// NewStore creates a job store. A nil logger disables logging.
func NewStore(db *sql.DB, cfg StoreConfig, log *zap.SugaredLogger) *Store {
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 10
	}
	return &Store{db: db, cfg: cfg, log: log}
}

// lockFor returns the shard mutex serializing mutations for a job id.
func (s *Store) lockFor(jobID string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(jobID)%lockShards]
}

const jobColumns = `id, name, type, profile_id, import_profile_id, destination_id,
	schedule_type, cron_expression, interval_minutes,
	start_date, end_date, start_time, end_time, week_days, month_day,
	max_retries, timeout_minutes, priority, allow_concurrent,
	depends_on_job_ids, auto_pause_enabled,
	is_enabled, status, next_run_time, last_run_time,
	last_success_time, last_failure_time, consecutive_failures,
	tags, hash, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var profileID, importProfileID, destinationID sql.NullString
	var cronExpression, startTime, endTime, weekDays sql.NullString
	var dependsOn, tags, hash sql.NullString
	var startDate, endDate, nextRunTime, lastRunTime sql.NullString
	var lastSuccessTime, lastFailureTime sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Type,
		&profileID,
		&importProfileID,
		&destinationID,
		&job.ScheduleType,
		&cronExpression,
		&job.IntervalMinutes,
		&startDate,
		&endDate,
		&startTime,
		&endTime,
		&weekDays,
		&job.MonthDay,
		&job.MaxRetries,
		&job.TimeoutMinutes,
		&job.Priority,
		&job.AllowConcurrent,
		&dependsOn,
		&job.AutoPauseEnabled,
		&job.IsEnabled,
		&job.Status,
		&nextRunTime,
		&lastRunTime,
		&lastSuccessTime,
		&lastFailureTime,
		&job.ConsecutiveFailures,
		&tags,
		&hash,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ProfileID = profileID.String
	job.ImportProfileID = importProfileID.String
	job.DestinationID = destinationID.String
	job.CronExpression = cronExpression.String
	job.StartTime = startTime.String
	job.EndTime = endTime.String
	job.WeekDays = weekDays.String
	job.DependsOnJobIDs = dependsOn.String
	job.Hash = hash.String
	job.Tags = splitTags(tags.String)

	job.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %s", job.ID)
	}
	job.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", job.ID)
	}

	for _, field := range []struct {
		src  sql.NullString
		dst  **time.Time
		name string
	}{
		{startDate, &job.StartDate, "start_date"},
		{endDate, &job.EndDate, "end_date"},
		{nextRunTime, &job.NextRunTime, "next_run_time"},
		{lastRunTime, &job.LastRunTime, "last_run_time"},
		{lastSuccessTime, &job.LastSuccessTime, "last_success_time"},
		{lastFailureTime, &job.LastFailureTime, "last_failure_time"},
	} {
		if !field.src.Valid || field.src.String == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, field.src.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s for job %s", field.name, job.ID)
		}
		*field.dst = &t
	}

	return &job, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func joinTags(tags []string) interface{} {
	if len(tags) == 0 {
		return nil
	}
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var tags []string
	for _, part := range strings.Split(s, ",") {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// CreateJob validates and inserts a new job. The identity hash and initial
// next run are computed here so callers only fill in the definition.
func (s *Store) CreateJob(job *Job) error {
	if err := job.Validate(); err != nil {
		return errors.Wrap(err, "invalid job definition")
	}

	now := time.Now().UTC()
	job.Hash = job.ComputeHash()
	if job.Status == "" {
		job.Status = StatusIdle
	}
	if job.NextRunTime == nil {
		job.NextRunTime = ComputeNextRun(job, now, s.log)
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		job.ID,
		job.Name,
		job.Type,
		nullableString(job.ProfileID),
		nullableString(job.ImportProfileID),
		nullableString(job.DestinationID),
		job.ScheduleType,
		nullableString(job.CronExpression),
		job.IntervalMinutes,
		nullableTime(job.StartDate),
		nullableTime(job.EndDate),
		nullableString(job.StartTime),
		nullableString(job.EndTime),
		nullableString(job.WeekDays),
		job.MonthDay,
		job.MaxRetries,
		job.TimeoutMinutes,
		job.Priority,
		job.AllowConcurrent,
		nullableString(job.DependsOnJobIDs),
		job.AutoPauseEnabled,
		job.IsEnabled,
		job.Status,
		nullableTime(job.NextRunTime),
		nullableTime(job.LastRunTime),
		nullableTime(job.LastSuccessTime),
		nullableTime(job.LastFailureTime),
		job.ConsecutiveFailures,
		joinTags(job.Tags),
		nullableString(job.Hash),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create job %s", job.ID)
	}
	return nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.Newf("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// ListJobs returns all jobs ordered by name.
func (s *Store) ListJobs() ([]*Job, error) {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY name ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob rewrites a job definition. The schedule fields are re-hashed
// and the next run recomputed so edits take effect on the next poll.
func (s *Store) UpdateJob(job *Job) error {
	if err := job.Validate(); err != nil {
		return errors.Wrap(err, "invalid job definition")
	}

	mu := s.lockFor(job.ID)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()
	job.Hash = job.ComputeHash()
	job.NextRunTime = ComputeNextRun(job, now, s.log)
	job.UpdatedAt = now

	query := `
		UPDATE jobs SET
			name = ?, type = ?, profile_id = ?, import_profile_id = ?, destination_id = ?,
			schedule_type = ?, cron_expression = ?, interval_minutes = ?,
			start_date = ?, end_date = ?, start_time = ?, end_time = ?,
			week_days = ?, month_day = ?,
			max_retries = ?, timeout_minutes = ?, priority = ?, allow_concurrent = ?,
			depends_on_job_ids = ?, auto_pause_enabled = ?,
			is_enabled = ?, next_run_time = ?, tags = ?, hash = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.Exec(query,
		job.Name,
		job.Type,
		nullableString(job.ProfileID),
		nullableString(job.ImportProfileID),
		nullableString(job.DestinationID),
		job.ScheduleType,
		nullableString(job.CronExpression),
		job.IntervalMinutes,
		nullableTime(job.StartDate),
		nullableTime(job.EndDate),
		nullableString(job.StartTime),
		nullableString(job.EndTime),
		nullableString(job.WeekDays),
		job.MonthDay,
		job.MaxRetries,
		job.TimeoutMinutes,
		job.Priority,
		job.AllowConcurrent,
		nullableString(job.DependsOnJobIDs),
		job.AutoPauseEnabled,
		job.IsEnabled,
		nullableTime(job.NextRunTime),
		joinTags(job.Tags),
		nullableString(job.Hash),
		now.Format(time.RFC3339),
		job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}
	return requireRowAffected(result, job.ID)
}

// DeleteJob removes a job and cascades to its execution history.
func (s *Store) DeleteJob(id string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete job %s", id)
	}
	return requireRowAffected(result, id)
}

// SetEnabled toggles a job. Enabling recomputes the next run; disabling
// clears it so the due scan never picks the job up.
func (s *Store) SetEnabled(id string, enabled bool) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	job, err := s.GetJob(id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	job.IsEnabled = enabled
	var next *time.Time
	if enabled {
		next = ComputeNextRun(job, now, s.log)
	}

	result, err := s.db.Exec(`
		UPDATE jobs SET is_enabled = ?, next_run_time = ?, updated_at = ?
		WHERE id = ?`,
		enabled, nullableTime(next), now.Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(err, "failed to toggle job %s", id)
	}
	return requireRowAffected(result, id)
}

// ScheduleNow makes an enabled job due immediately so the next poll picks
// it up. Used for manual triggering from outside the daemon process.
func (s *Store) ScheduleNow(id string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	job, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if !job.IsEnabled {
		return errors.Newf("job %s is disabled", id)
	}

	now := time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE jobs SET next_run_time = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		now.Format(time.RFC3339), StatusIdle, now.Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(err, "failed to schedule job %s", id)
	}
	return requireRowAffected(result, id)
}

// UpdateStatus transitions a job's lifecycle status.
func (s *Store) UpdateStatus(id string, status JobStatus) error {
	result, err := s.db.Exec(`
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update status for job %s", id)
	}
	return requireRowAffected(result, id)
}

func requireRowAffected(result sql.Result, jobID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Newf("job not found: %s", jobID)
	}
	return nil
}

// GetDueJobs returns enabled jobs whose next run has arrived, ordered by
// priority (lower value first) then by how long they have been due.
//
// Jobs overdue by more than a week are excluded and repaired in place: a
// schedule that far behind means the stored next run is corrupt or the
// process was down long enough that replaying it would be wrong. Enabled
// schedulable jobs that lost their next run entirely are repaired the same
// way, and jobs stuck in Failed are reset to Idle so they become eligible
// again.
func (s *Store) GetDueJobs(ctx context.Context, now time.Time) ([]*Job, error) {
	now = now.UTC()
	nowStr := now.Format(time.RFC3339)
	staleBefore := now.Add(-staleThreshold).Format(time.RFC3339)

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE is_enabled = 1
		  AND status IN (?, ?, ?)
		  AND next_run_time IS NOT NULL
		  AND next_run_time <= ?
		  AND next_run_time > ?
		  AND (end_date IS NULL OR end_date >= ?)
		ORDER BY priority ASC, next_run_time ASC
		LIMIT 100
	`
	rows, err := s.db.QueryContext(ctx, query,
		StatusIdle, StatusScheduled, StatusFailed,
		nowStr, staleBefore, nowStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query due jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan due job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.repairSchedules(ctx, now); err != nil {
		if s.log != nil {
			s.log.Warnw("Schedule repair failed", "error", err)
		}
	}

	return jobs, nil
}

// repairSchedules fixes jobs the due scan skipped: stale next runs, missing
// next runs on schedulable jobs, and stuck Failed statuses.
func (s *Store) repairSchedules(ctx context.Context, now time.Time) error {
	staleBefore := now.Add(-staleThreshold).Format(time.RFC3339)

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE is_enabled = 1
		  AND schedule_type != ?
		  AND (next_run_time IS NULL OR next_run_time <= ?)
	`
	rows, err := s.db.QueryContext(ctx, query, ScheduleManual, staleBefore)
	if err != nil {
		return errors.Wrap(err, "failed to query repairable jobs")
	}
	defer rows.Close()

	var broken []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return errors.Wrap(err, "failed to scan repairable job")
		}
		broken = append(broken, job)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, job := range broken {
		next := ComputeNextRun(job, now, s.log)
		status := job.Status
		failures := job.ConsecutiveFailures
		if status == StatusFailed {
			status = StatusIdle
			failures = 0
		}
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET next_run_time = ?, status = ?, consecutive_failures = ?, updated_at = ?
			WHERE id = ?`,
			nullableTime(next), status, failures, now.Format(time.RFC3339), job.ID)
		if err != nil {
			return errors.Wrapf(err, "failed to repair schedule for job %s", job.ID)
		}
		if s.log != nil {
			s.log.Warnw("Repaired stale job schedule",
				"job_id", job.ID,
				"old_next_run", job.NextRunTime,
				"new_next_run", next)
		}
	}
	return nil
}

// MarkRunning transitions a job to Running at dispatch time.
func (s *Store) MarkRunning(id string) error {
	return s.UpdateStatus(id, StatusRunning)
}

// RecordSuccess finalizes a successful run: failure counting resets, the
// next run is recomputed from now, and the job returns to Idle.
func (s *Store) RecordSuccess(id string, finishedAt time.Time) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	job, err := s.GetJob(id)
	if err != nil {
		return err
	}

	finishedAt = finishedAt.UTC()
	next := ComputeNextRun(job, finishedAt, s.log)

	result, err := s.db.Exec(`
		UPDATE jobs SET
			status = ?,
			last_run_time = ?,
			last_success_time = ?,
			consecutive_failures = 0,
			next_run_time = ?,
			updated_at = ?
		WHERE id = ?`,
		StatusIdle,
		finishedAt.Format(time.RFC3339),
		finishedAt.Format(time.RFC3339),
		nullableTime(next),
		finishedAt.Format(time.RFC3339),
		id)
	if err != nil {
		return errors.Wrapf(err, "failed to record success for job %s", id)
	}
	return requireRowAffected(result, id)
}

// RecordFailure finalizes a failed run. The consecutive-failure counter
// increments, and when a job with auto-pause enabled reaches the breaker
// threshold it is disabled and tagged. With a resume cooldown configured
// the trip stores a resume instant in next_run_time for the sweep to find;
// without one the job stays down until manually resumed.
//
// Below the threshold the job stays schedulable: its next run is
// recomputed, falling back to an exponential backoff capped at an hour when
// the schedule itself yields nothing usable.
func (s *Store) RecordFailure(id string, finishedAt time.Time) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	job, err := s.GetJob(id)
	if err != nil {
		return err
	}

	finishedAt = finishedAt.UTC()
	failures := job.ConsecutiveFailures + 1

	if job.AutoPauseEnabled && failures >= s.cfg.CircuitBreakerThreshold {
		return s.tripCircuitBreaker(job, failures, finishedAt)
	}

	job.ConsecutiveFailures = failures
	next := ComputeNextRun(job, finishedAt, s.log)
	if next == nil && job.ScheduleType != ScheduleManual && job.IsEnabled {
		backoff := failureBackoff(failures)
		t := finishedAt.Add(backoff)
		next = &t
	}

	result, err := s.db.Exec(`
		UPDATE jobs SET
			status = ?,
			last_run_time = ?,
			last_failure_time = ?,
			consecutive_failures = ?,
			next_run_time = ?,
			updated_at = ?
		WHERE id = ?`,
		StatusFailed,
		finishedAt.Format(time.RFC3339),
		finishedAt.Format(time.RFC3339),
		failures,
		nullableTime(next),
		finishedAt.Format(time.RFC3339),
		id)
	if err != nil {
		return errors.Wrapf(err, "failed to record failure for job %s", id)
	}
	return requireRowAffected(result, id)
}

// failureBackoff waits 2^failures minutes, capped at an hour: the first
// failure already delays two minutes, not one.
func failureBackoff(failures int) time.Duration {
	minutes := 1
	for i := 0; i < failures && minutes < 60; i++ {
		minutes *= 2
	}
	if minutes > 60 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

func (s *Store) tripCircuitBreaker(job *Job, failures int, now time.Time) error {
	job.AddTag(TagCircuitBreaker)

	var resumeAt interface{}
	if s.cfg.AutoResumeCooldown > 0 {
		resumeAt = now.Add(s.cfg.AutoResumeCooldown).Format(time.RFC3339)
	}

	result, err := s.db.Exec(`
		UPDATE jobs SET
			is_enabled = 0,
			status = ?,
			last_run_time = ?,
			last_failure_time = ?,
			consecutive_failures = ?,
			next_run_time = ?,
			tags = ?,
			updated_at = ?
		WHERE id = ?`,
		StatusFailed,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
		failures,
		resumeAt,
		joinTags(job.Tags),
		now.Format(time.RFC3339),
		job.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to trip circuit breaker for job %s", job.ID)
	}
	if s.log != nil {
		s.log.Warnw("Circuit breaker tripped",
			"job_id", job.ID,
			"consecutive_failures", failures,
			"resume_at", resumeAt)
	}
	return requireRowAffected(result, job.ID)
}

// ReEnableCircuitBreakerJobs resumes tripped jobs whose cooldown expired.
// Returns the ids of resumed jobs.
func (s *Store) ReEnableCircuitBreakerJobs(ctx context.Context, now time.Time) ([]string, error) {
	if s.cfg.AutoResumeCooldown <= 0 {
		return nil, nil
	}
	now = now.UTC()

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE is_enabled = 0
		  AND tags LIKE '%' || ? || '%'
		  AND next_run_time IS NOT NULL
		  AND next_run_time <= ?
	`
	rows, err := s.db.QueryContext(ctx, query, TagCircuitBreaker, now.Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query tripped jobs")
	}
	defer rows.Close()

	var tripped []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan tripped job")
		}
		if job.HasTag(TagCircuitBreaker) {
			tripped = append(tripped, job)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var resumed []string
	for _, job := range tripped {
		if err := s.resume(job, now); err != nil {
			if s.log != nil {
				s.log.Errorw("Failed to auto-resume tripped job",
					"job_id", job.ID,
					"error", err)
			}
			continue
		}
		resumed = append(resumed, job.ID)
	}
	return resumed, nil
}

// ResumeCircuitBreakerJob manually resumes a tripped job regardless of
// cooldown.
func (s *Store) ResumeCircuitBreakerJob(id string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	job, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if !job.HasTag(TagCircuitBreaker) {
		return errors.Newf("job %s is not paused by the circuit breaker", id)
	}
	return s.resume(job, time.Now().UTC())
}

// resume re-enables a tripped job. The job is marked enabled on the model
// before the next run is computed, otherwise the calculation would see a
// disabled job and return nil.
func (s *Store) resume(job *Job, now time.Time) error {
	job.IsEnabled = true
	job.RemoveTag(TagCircuitBreaker)
	next := ComputeNextRun(job, now, s.log)

	result, err := s.db.Exec(`
		UPDATE jobs SET
			is_enabled = 1,
			status = ?,
			consecutive_failures = 0,
			next_run_time = ?,
			tags = ?,
			updated_at = ?
		WHERE id = ?`,
		StatusIdle,
		nullableTime(next),
		joinTags(job.Tags),
		now.Format(time.RFC3339),
		job.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to resume job %s", job.ID)
	}
	if s.log != nil {
		s.log.Infow("Circuit breaker job resumed",
			"job_id", job.ID,
			"next_run", next)
	}
	return requireRowAffected(result, job.ID)
}
