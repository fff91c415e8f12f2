package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "reef.db")
	v.SetDefault("database.backup_dir", "backups")

	// Scheduler defaults
	v.SetDefault("scheduler.poll_interval_seconds", 15)
	v.SetDefault("scheduler.max_concurrent_jobs", 4)
	v.SetDefault("scheduler.circuit_breaker_threshold", 10) // consecutive run failures before auto-pause
	v.SetDefault("scheduler.auto_resume_cooldown_hours", 1) // 0 disables auto-resume
	v.SetDefault("scheduler.reenable_sweep_seconds", 300)
	v.SetDefault("scheduler.execution_retention_days", 90)
	v.SetDefault("scheduler.server_node", "")

	// Notification dispatcher defaults
	v.SetDefault("notify.buffer_size", 256)
	v.SetDefault("notify.rate_per_second", 5.0)

	// Logging defaults
	v.SetDefault("log.json", false)
}
