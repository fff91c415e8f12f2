package config

import (
	"github.com/melosso/reef/errors"
)

// Validate checks configuration values against their allowed ranges.
func Validate(cfg *Config) error {
	s := cfg.Scheduler

	if s.CircuitBreakerThreshold < 1 || s.CircuitBreakerThreshold > 100 {
		return errors.Newf("scheduler.circuit_breaker_threshold must be 1-100, got %d", s.CircuitBreakerThreshold)
	}

	// Zero means manual-only resume; otherwise bounded to a week.
	if s.AutoResumeCooldownHours != 0 && (s.AutoResumeCooldownHours < 1 || s.AutoResumeCooldownHours > 168) {
		return errors.Newf("scheduler.auto_resume_cooldown_hours must be 0 or 1-168, got %d", s.AutoResumeCooldownHours)
	}

	if s.MaxConcurrentJobs < 1 {
		return errors.Newf("scheduler.max_concurrent_jobs must be at least 1, got %d", s.MaxConcurrentJobs)
	}

	if s.PollIntervalSeconds < 1 {
		return errors.Newf("scheduler.poll_interval_seconds must be at least 1, got %d", s.PollIntervalSeconds)
	}

	if cfg.Notify.BufferSize < 1 {
		return errors.Newf("notify.buffer_size must be at least 1, got %d", cfg.Notify.BufferSize)
	}

	return nil
}
