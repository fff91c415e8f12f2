package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ComputeNextRun calculates the next run instant for a job relative to now.
// Pure apart from logging: no I/O, no clock reads.
//
// Returns nil when the job is disabled, manual, or past its end date. A
// non-nil result is always strictly after now. The calculation is based on
// now (never LastRunTime) so a long-paused system computes a single
// upcoming run instead of replaying every missed tick.
func ComputeNextRun(job *Job, now time.Time, log *zap.SugaredLogger) *time.Time {
	now = now.UTC()

	if !job.IsEnabled || job.ScheduleType == ScheduleManual || job.ScheduleType == "" {
		return nil
	}
	if job.EndDate != nil && job.EndDate.UTC().Before(now) {
		return nil
	}

	base := now
	if job.StartDate != nil && job.StartDate.UTC().After(now) {
		base = job.StartDate.UTC()
	}

	next := computeFromBase(job, base, now, log)
	next = snapToWindow(job, next, now)

	if !next.After(now) {
		// Near DST transitions or racing writers the type-specific result
		// can land at or before now. Recompute once from a minute ahead.
		next = computeFromBase(job, now.Add(time.Minute), now, log)
		next = snapToWindow(job, next, now)
	}

	if !next.After(now) {
		if log != nil {
			log.Errorw("Next-run calculation failed to land in the future, falling back to one hour",
				"job_id", job.ID,
				"schedule_type", job.ScheduleType,
				"computed", next,
				"reference", now)
		}
		next = now.Add(time.Hour)
	}

	return &next
}

func computeFromBase(job *Job, base, now time.Time, log *zap.SugaredLogger) time.Time {
	switch job.ScheduleType {
	case ScheduleInterval:
		return nextInterval(job, base, now)
	case ScheduleCron:
		return nextCron(job, base, now, log)
	case ScheduleDaily:
		return nextDaily(job, base, now)
	case ScheduleWeekly:
		return nextWeekly(job, base, now)
	case ScheduleMonthly:
		return nextMonthly(job, base, now)
	default:
		if log != nil {
			log.Warnw("Unknown schedule type, defaulting to one hour",
				"job_id", job.ID,
				"schedule_type", job.ScheduleType)
		}
		return now.Add(time.Hour)
	}
}

// nextInterval advances base by the interval until strictly in the future.
// The interval is forced positive, so the loop terminates.
func nextInterval(job *Job, base, now time.Time) time.Time {
	minutes := job.IntervalMinutes
	if minutes <= 0 {
		minutes = 60
	}
	interval := time.Duration(minutes) * time.Minute

	next := base.Add(interval)
	if !next.After(now) {
		// Skip the backlog in one step rather than looping per tick.
		behind := now.Sub(next)
		steps := behind/interval + 1
		next = next.Add(steps * interval)
	}
	return next
}

func nextCron(job *Job, base, now time.Time, log *zap.SugaredLogger) time.Time {
	sched, err := cron.ParseStandard(job.CronExpression)
	if err != nil {
		if log != nil {
			log.Warnw("Invalid cron expression, falling back to one hour",
				"job_id", job.ID,
				"cron", job.CronExpression,
				"error", err)
		}
		return now.Add(time.Hour)
	}

	next := sched.Next(base)
	if !next.After(now) {
		next = sched.Next(now)
	}
	return next
}

func nextDaily(job *Job, base, now time.Time) time.Time {
	hour, minute := parseTimeOfDay(job.StartTime)
	next := time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func nextWeekly(job *Job, base, now time.Time) time.Time {
	selected := make(map[time.Weekday]bool)
	for _, wd := range job.SelectedWeekDays() {
		selected[wd] = true
	}

	hour, minute := parseTimeOfDay(job.StartTime)

	// Today counts when its time-of-day has not yet passed; otherwise
	// search forward up to a week.
	for offset := 0; offset <= 7; offset++ {
		day := base.AddDate(0, 0, offset)
		if !selected[day.Weekday()] {
			continue
		}
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC)
		if candidate.After(now) {
			return candidate
		}
	}

	// Unreachable with at least one selected weekday; keep a sane result.
	return now.Add(7 * 24 * time.Hour)
}

func nextMonthly(job *Job, base, now time.Time) time.Time {
	day := job.MonthDay
	if day <= 0 {
		day = 1
	}
	if day > 31 {
		day = 31
	}

	hour, minute := parseTimeOfDay(job.StartTime)

	candidate := monthlyCandidate(base.Year(), base.Month(), day, hour, minute)
	if !candidate.After(now) {
		// Advance from the first of the next month so day clamping is
		// recomputed against that month's length.
		firstOfNext := time.Date(base.Year(), base.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		candidate = monthlyCandidate(firstOfNext.Year(), firstOfNext.Month(), day, hour, minute)
	}
	return candidate
}

// monthlyCandidate clamps day to the target month's length (day 31 in
// February becomes the last day of February, never a rollover).
func monthlyCandidate(year int, month time.Month, day, hour, minute int) time.Time {
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// snapToWindow moves a computed run that falls outside the job's daily
// execution window forward to the next window start.
func snapToWindow(job *Job, next, now time.Time) time.Time {
	if job.StartTime == "" || job.EndTime == "" {
		return next
	}

	startHour, startMinute := parseTimeOfDay(job.StartTime)
	endHour, endMinute := parseTimeOfDay(job.EndTime)

	windowStart := time.Date(next.Year(), next.Month(), next.Day(), startHour, startMinute, 0, 0, time.UTC)
	windowEnd := time.Date(next.Year(), next.Month(), next.Day(), endHour, endMinute, 0, 0, time.UTC)
	if !windowEnd.After(windowStart) {
		return next // degenerate window, nothing to enforce
	}

	if next.Before(windowStart) {
		next = windowStart
	} else if next.After(windowEnd) {
		next = windowStart.AddDate(0, 0, 1)
	}

	// A same-day window start that already passed is no use.
	if !next.After(now) {
		next = windowStart.AddDate(0, 0, 1)
		for !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
	}
	return next
}

// parseTimeOfDay parses "HH:MM" (or "HH:MM:SS", seconds ignored).
// Empty or malformed values default to midnight.
func parseTimeOfDay(s string) (hour, minute int) {
	if s == "" {
		return 0, 0
	}
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		parsed, err = time.Parse("15:04:05", s)
		if err != nil {
			return 0, 0
		}
	}
	return parsed.Hour(), parsed.Minute()
}
