// Package config loads Reef configuration via Viper.
//
// Precedence: defaults < config file < REEF_* environment variables.
package config

import (
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/melosso/reef/errors"
)

// Config is the root Reef configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig configures the embedded store.
type DatabaseConfig struct {
	Path      string `mapstructure:"path"`
	BackupDir string `mapstructure:"backup_dir"`
}

// SchedulerConfig configures the scheduling and execution engine.
type SchedulerConfig struct {
	PollIntervalSeconds     int    `mapstructure:"poll_interval_seconds"`
	MaxConcurrentJobs       int    `mapstructure:"max_concurrent_jobs"`
	CircuitBreakerThreshold int    `mapstructure:"circuit_breaker_threshold"`
	AutoResumeCooldownHours int    `mapstructure:"auto_resume_cooldown_hours"`
	ReEnableSweepSeconds    int    `mapstructure:"reenable_sweep_seconds"`
	ExecutionRetentionDays  int    `mapstructure:"execution_retention_days"`
	ServerNode              string `mapstructure:"server_node"`
}

// AutoResumeEnabled reports whether tripped circuit-breaker jobs resume
// automatically after a cooldown. Zero cooldown means manual-only resume.
func (c SchedulerConfig) AutoResumeEnabled() bool {
	return c.AutoResumeCooldownHours > 0
}

// NotifyConfig configures the outbound notification dispatcher.
type NotifyConfig struct {
	BufferSize    int     `mapstructure:"buffer_size"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// LogConfig configures logging output.
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

var (
	globalConfig *Config
	globalMu     sync.Mutex
)

// Load reads the Reef configuration using Viper, caching the result.
func Load() (*Config, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v := newViper()

	// Config file is optional; defaults plus env vars are a valid setup.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}

	globalConfig = cfg
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path, bypassing the
// cache. Used by tests and the config watcher.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return unmarshal(v)
}

// Reset clears the cached configuration (useful for testing and reload).
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix("REEF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	v.SetConfigName("reef")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/reef")

	return v
}
