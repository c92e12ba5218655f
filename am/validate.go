package am

import (
	"github.com/robfig/cron/v3"

	"github.com/robertclapp/accessai-sub004/errors"
)

// Same range the decision engine accepts
const (
	minConfidenceLevel = 80
	maxConfidenceLevel = 99
)

var overrideParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Intervals: 0 would spin or never finish, negative is invalid
	if c.Scheduler.TickIntervalSeconds <= 0 {
		return errors.Newf("scheduler.tick_interval_seconds must be > 0, got %d", c.Scheduler.TickIntervalSeconds)
	}
	if c.Scheduler.JobTimeoutSeconds <= 0 {
		return errors.Newf("scheduler.job_timeout_seconds must be > 0, got %d", c.Scheduler.JobTimeoutSeconds)
	}

	// Retention: 0 = unlimited / disabled, negative = invalid
	if c.Scheduler.RetentionPerJob < 0 {
		return errors.Newf("scheduler.retention_per_job must be >= 0, got %d", c.Scheduler.RetentionPerJob)
	}
	if c.Scheduler.RetentionDays < 0 {
		return errors.Newf("scheduler.retention_days must be >= 0, got %d", c.Scheduler.RetentionDays)
	}

	seen := make(map[string]bool, len(c.Scheduler.Jobs))
	for i, o := range c.Scheduler.Jobs {
		if o.ID == "" {
			return errors.Newf("scheduler.jobs[%d].id is required", i)
		}
		if seen[o.ID] {
			return errors.Newf("scheduler.jobs has more than one entry for %q", o.ID)
		}
		seen[o.ID] = true
		if o.Schedule != "" {
			if _, err := overrideParser.Parse(o.Schedule); err != nil {
				return errors.WithHint(
					errors.Wrapf(err, "scheduler.jobs[%d].schedule %q", i, o.Schedule),
					"use a 5 or 6 field cron expression or a descriptor such as @hourly",
				)
			}
		}
	}

	if c.Experiments.DefaultConfidenceLevel < minConfidenceLevel || c.Experiments.DefaultConfidenceLevel > maxConfidenceLevel {
		return errors.Newf("experiments.default_confidence_level must be between %d and %d, got %d",
			minConfidenceLevel, maxConfidenceLevel, c.Experiments.DefaultConfidenceLevel)
	}
	if c.Experiments.DefaultMinSampleSize < 1 {
		return errors.Newf("experiments.default_min_sample_size must be >= 1, got %d", c.Experiments.DefaultMinSampleSize)
	}

	if c.Notify.RatePerMinute <= 0 {
		return errors.Newf("notify.rate_per_minute must be > 0, got %d", c.Notify.RatePerMinute)
	}
	if c.Notify.QueueSize <= 0 {
		return errors.Newf("notify.queue_size must be > 0, got %d", c.Notify.QueueSize)
	}

	// A token without chats is almost always a mistake
	if c.Notify.Telegram.Token != "" && len(c.Notify.Telegram.ChatIDs) == 0 {
		return errors.New("notify.telegram.chat_ids cannot be empty when a token is set")
	}

	return nil
}
