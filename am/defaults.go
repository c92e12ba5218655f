package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// Default values shared with the components that read them
const (
	DefaultDatabasePath        = "accessai.db"
	DefaultTickIntervalSeconds = 60
	DefaultJobTimeoutSeconds   = 600
	DefaultRetentionPerJob     = 500
	DefaultRetentionDays       = 90
	DefaultConfidenceLevel     = 95
	DefaultMinSampleSize       = 100
	DefaultNotifyRatePerMinute = 30
	DefaultNotifyQueueSize     = 64
	DefaultMetricsAddr         = ":9464"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("log.json", false)

	v.SetDefault("scheduler.tick_interval_seconds", DefaultTickIntervalSeconds)
	v.SetDefault("scheduler.job_timeout_seconds", DefaultJobTimeoutSeconds)
	v.SetDefault("scheduler.retention_per_job", DefaultRetentionPerJob)
	v.SetDefault("scheduler.retention_days", DefaultRetentionDays)

	v.SetDefault("experiments.default_confidence_level", DefaultConfidenceLevel)
	v.SetDefault("experiments.default_min_sample_size", DefaultMinSampleSize)

	v.SetDefault("notify.rate_per_minute", DefaultNotifyRatePerMinute)
	v.SetDefault("notify.queue_size", DefaultNotifyQueueSize)

	v.SetDefault("metrics.addr", DefaultMetricsAddr)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("notify.telegram.token", "ACCESSAI_TELEGRAM_TOKEN")
	v.BindEnv("database.path", "ACCESSAI_DATABASE_PATH")
}

// DefaultConfig returns the configuration produced by the defaults alone
func DefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var config Config
	// Defaults always decode
	_ = v.Unmarshal(&config)
	return &config
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// String returns a string representation of the config with secrets masked
func (c *Config) String() string {
	token := ""
	if c.Notify.Telegram.Token != "" {
		token = "***"
	}
	return fmt.Sprintf("Config{Database: %s, Scheduler: {Tick: %ds, Timeout: %ds, Overrides: %d}, Experiments: {Confidence: %d, MinSample: %d}, Telegram: {Token: %q, Chats: %d}, Metrics: %q}",
		c.Database.Path,
		c.Scheduler.TickIntervalSeconds, c.Scheduler.JobTimeoutSeconds, len(c.Scheduler.Jobs),
		c.Experiments.DefaultConfidenceLevel, c.Experiments.DefaultMinSampleSize,
		token, len(c.Notify.Telegram.ChatIDs),
		c.Metrics.Addr)
}
