package am

import "time"

// Config represents the accessai configuration
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database" toml:"database"`
	Log         LogConfig         `mapstructure:"log" toml:"log"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler" toml:"scheduler"`
	Experiments ExperimentsConfig `mapstructure:"experiments" toml:"experiments"`
	Notify      NotifyConfig      `mapstructure:"notify" toml:"notify"`
	Metrics     MetricsConfig     `mapstructure:"metrics" toml:"metrics"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// LogConfig configures logger output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json"` // zap production JSON instead of the console encoder
}

// SchedulerConfig configures the job scheduler and its ticker
type SchedulerConfig struct {
	TickIntervalSeconds int `mapstructure:"tick_interval_seconds" toml:"tick_interval_seconds"` // How often due jobs are checked (default: 60)
	JobTimeoutSeconds   int `mapstructure:"job_timeout_seconds" toml:"job_timeout_seconds"`     // Run deadline per job (default: 600)
	RetentionPerJob     int `mapstructure:"retention_per_job" toml:"retention_per_job"`         // Execution records kept per job, 0 = unlimited (default: 500)
	RetentionDays       int `mapstructure:"retention_days" toml:"retention_days"`               // Age limit for the ledger cleanup job, 0 = disabled (default: 90)

	// Per-job overrides keyed by job id. An array of tables because job ids contain dots.
	Jobs []JobOverride `mapstructure:"jobs" toml:"jobs,omitempty"`
}

// JobOverride replaces the built-in schedule or enabled flag of one job
type JobOverride struct {
	ID       string `mapstructure:"id" toml:"id"`
	Schedule string `mapstructure:"schedule" toml:"schedule,omitempty"`
	Enabled  *bool  `mapstructure:"enabled" toml:"enabled,omitempty"` // nil = keep the persisted state
}

// ExperimentsConfig holds defaults applied when an experiment is created without them
type ExperimentsConfig struct {
	DefaultConfidenceLevel int `mapstructure:"default_confidence_level" toml:"default_confidence_level"` // Whole percent, 80-99 (default: 95)
	DefaultMinSampleSize   int `mapstructure:"default_min_sample_size" toml:"default_min_sample_size"`   // Sends per variant before deciding (default: 100)
}

// NotifyConfig configures winner notifications
type NotifyConfig struct {
	RatePerMinute int            `mapstructure:"rate_per_minute" toml:"rate_per_minute"` // Delivery rate limit (default: 30)
	QueueSize     int            `mapstructure:"queue_size" toml:"queue_size"`           // Pending notifications before drops (default: 64)
	Telegram      TelegramConfig `mapstructure:"telegram" toml:"telegram"`
}

// TelegramConfig enables Telegram delivery when a token and at least one chat are set
type TelegramConfig struct {
	Token   string  `mapstructure:"token" toml:"token,omitempty"`
	ChatIDs []int64 `mapstructure:"chat_ids" toml:"chat_ids,omitempty"`
}

// Enabled reports whether Telegram delivery is configured
func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && len(t.ChatIDs) > 0
}

// MetricsConfig configures the prometheus endpoint of serve
type MetricsConfig struct {
	Addr string `mapstructure:"addr" toml:"addr"` // Listen address, empty = disabled (default: ":9464")
}

// TickInterval returns the scheduler tick interval
func (s SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalSeconds) * time.Second
}

// JobTimeout returns the per-run deadline
func (s SchedulerConfig) JobTimeout() time.Duration {
	return time.Duration(s.JobTimeoutSeconds) * time.Second
}

// RetentionMaxAge returns the age past which execution records are cleaned up
func (s SchedulerConfig) RetentionMaxAge() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// Override returns the configured override for a job id
func (s SchedulerConfig) Override(jobID string) (JobOverride, bool) {
	for _, o := range s.Jobs {
		if o.ID == jobID {
			return o, true
		}
	}
	return JobOverride{}, false
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
