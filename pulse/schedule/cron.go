package schedule

import (
	"github.com/robfig/cron/v3"

	"github.com/robertclapp/accessai-sub004/errors"
)

// scheduleParser accepts standard 5-field expressions, an optional leading seconds
// field, and descriptors such as @hourly or @every 10m.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression and returns the schedule used to compute next run times.
func ParseSchedule(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, errors.NewInvalidRequestError("empty schedule expression")
	}
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(errors.ErrInvalidRequest, "invalid schedule %q: %v", expr, err),
			"use a 5-field cron expression (\"*/15 * * * *\") or a descriptor (\"@hourly\")",
		)
	}
	return sched, nil
}
