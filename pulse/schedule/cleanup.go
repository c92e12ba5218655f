package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robertclapp/accessai-sub004/errors"
	"github.com/robertclapp/accessai-sub004/logger"
)

// CleanupJobID is the id of the built-in ledger retention job
const CleanupJobID = "ledger.cleanup"

// CleanupJob returns a job that deletes finished ledger records older than maxAge.
// It complements the per-job trim that runs after every execution.
func CleanupJob(store *ExecutionStore, maxAge time.Duration, schedule string) Job {
	if schedule == "" {
		schedule = "@daily"
	}
	return Job{
		ID:       CleanupJobID,
		Name:     "Execution ledger cleanup",
		Schedule: schedule,
		Enabled:  maxAge > 0,
		Fn: func(ctx context.Context) (JobResult, error) {
			if maxAge <= 0 {
				return JobResult{Summary: "retention disabled"}, nil
			}
			cutoff := time.Now().Add(-maxAge)
			deleted, err := store.CleanupOlderThan(ctx, cutoff)
			if err != nil {
				return JobResult{}, errors.Wrap(err, "ledger cleanup")
			}
			logger.FromContext(ctx, nil).Infow("Ledger cleanup finished",
				"deleted", deleted,
				"cutoff", cutoff.Format(time.RFC3339))
			return JobResult{
				ItemsProcessed:  deleted,
				ItemsSuccessful: deleted,
				Summary:         fmt.Sprintf("%d records older than %s deleted", deleted, maxAge),
			}, nil
		},
	}
}
