// Package schedule provides job definitions, next-run calculation and the
// persistent job store for the Reef scheduling engine.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// JobType identifies what a job executes when triggered.
type JobType string

const (
	JobTypeProfileExecution JobType = "ProfileExecution"
	JobTypeHealthCheck      JobType = "HealthCheck"
	JobTypeBackupDatabase   JobType = "BackupDatabase"
	JobTypeCleanup          JobType = "Cleanup"
	JobTypeCustom           JobType = "Custom"
)

// ScheduleType identifies the recurrence rule of a job.
type ScheduleType string

const (
	ScheduleManual   ScheduleType = "Manual"
	ScheduleInterval ScheduleType = "Interval"
	ScheduleCron     ScheduleType = "Cron"
	ScheduleDaily    ScheduleType = "Daily"
	ScheduleWeekly   ScheduleType = "Weekly"
	ScheduleMonthly  ScheduleType = "Monthly"
)

// JobStatus is the lifecycle state of a job definition.
type JobStatus string

const (
	StatusIdle      JobStatus = "Idle"
	StatusScheduled JobStatus = "Scheduled"
	StatusRunning   JobStatus = "Running"
	StatusCompleted JobStatus = "Completed"
	StatusFailed    JobStatus = "Failed"
	StatusCancelled JobStatus = "Cancelled"
)

// TagCircuitBreaker marks jobs auto-paused by the circuit breaker.
const TagCircuitBreaker = "circuit-breaker"

// Job is a schedulable unit of work with a recurrence rule.
//
// All timestamps are UTC. NextRunTime is either nil (disabled, manual or
// past its end date) or strictly in the future at the moment it is
// persisted.
type Job struct {
	ID              string
	Name            string
	Type            JobType
	ProfileID       string
	ImportProfileID string
	DestinationID   string

	ScheduleType   ScheduleType
	CronExpression string
	IntervalMinutes int
	StartDate      *time.Time
	EndDate        *time.Time
	StartTime      string // "HH:MM" time-of-day, also the daily window start
	EndTime        string // "HH:MM" daily window end, empty for no window
	WeekDays       string // comma list of 0-6, Monday=0
	MonthDay       int    // 1-31, clamped to days in target month

	MaxRetries      int
	TimeoutMinutes  int
	Priority        int // lower number = higher priority
	AllowConcurrent bool
	DependsOnJobIDs string // comma list
	AutoPauseEnabled bool

	IsEnabled bool
	Status    JobStatus

	NextRunTime         *time.Time
	LastRunTime         *time.Time
	LastSuccessTime     *time.Time
	LastFailureTime     *time.Time
	ConsecutiveFailures int

	Tags []string
	Hash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks structural constraints on the job definition.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if j.ProfileID != "" && j.ImportProfileID != "" {
		return fmt.Errorf("profile_id and import_profile_id are mutually exclusive")
	}
	if j.MonthDay < 0 || j.MonthDay > 31 {
		return fmt.Errorf("month_day must be 1-31, got %d", j.MonthDay)
	}
	if j.ScheduleType == ScheduleCron && strings.TrimSpace(j.CronExpression) == "" {
		return fmt.Errorf("cron schedule requires a cron expression")
	}
	return nil
}

// HasTag reports whether the job carries the given tag.
func (j *Job) HasTag(tag string) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag adds a tag if not already present.
func (j *Job) AddTag(tag string) {
	if !j.HasTag(tag) {
		j.Tags = append(j.Tags, tag)
	}
}

// RemoveTag removes a tag if present.
func (j *Job) RemoveTag(tag string) {
	out := j.Tags[:0]
	for _, t := range j.Tags {
		if t != tag {
			out = append(out, t)
		}
	}
	j.Tags = out
}

// DependsOn returns the declared dependency job ids.
func (j *Job) DependsOn() []string {
	if strings.TrimSpace(j.DependsOnJobIDs) == "" {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(j.DependsOnJobIDs, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// SelectedWeekDays parses the weekday list (0=Monday .. 6=Sunday) into Go
// weekdays. Defaults to Monday when the list is empty or entirely invalid.
func (j *Job) SelectedWeekDays() []time.Weekday {
	var days []time.Weekday
	seen := make(map[time.Weekday]bool)
	for _, part := range strings.Split(j.WeekDays, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 6 {
			continue
		}
		// 0=Monday in the schedule definition, Sunday=0 in time.Weekday.
		wd := time.Weekday((n + 1) % 7)
		if !seen[wd] {
			seen[wd] = true
			days = append(days, wd)
		}
	}
	if len(days) == 0 {
		return []time.Weekday{time.Monday}
	}
	sort.Slice(days, func(a, b int) bool { return days[a] < days[b] })
	return days
}

// ComputeHash fingerprints the job's identity fields. Used to detect
// out-of-band changes to a schedule definition.
func (j *Job) ComputeHash() string {
	h := xxhash.New()
	for _, field := range []string{
		j.ID, j.Name, string(j.Type), j.ProfileID, j.ImportProfileID,
		j.DestinationID, string(j.ScheduleType), j.CronExpression,
		strconv.Itoa(j.IntervalMinutes), j.StartTime, j.EndTime,
		j.WeekDays, strconv.Itoa(j.MonthDay),
	} {
		h.WriteString(field)
		h.WriteString("|")
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
