package schedule

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertclapp/accessai-sub004/errors"
	"github.com/robertclapp/accessai-sub004/internal/util"
)

func runningExecution(id, jobID string, startedAt time.Time) *Execution {
	return &Execution{
		ID:        id,
		JobID:     jobID,
		JobName:   "Test " + jobID,
		Status:    ExecutionStatusRunning,
		StartedAt: startedAt,
	}
}

func finish(exec *Execution, status ExecutionStatus, d time.Duration) *Execution {
	completed := exec.StartedAt.Add(d)
	exec.Status = status
	exec.CompletedAt = &completed
	exec.DurationMs = util.Ptr(d.Milliseconds())
	return exec
}

func TestAppendAndGetExecution(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore(createTestDB(t))
	startedAt := time.Date(2026, 3, 1, 9, 0, 0, 123000000, time.UTC)

	exec := runningExecution("exec-1", "experiments.autocomplete", startedAt)
	require.NoError(t, store.Append(ctx, exec))

	retrieved, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "experiments.autocomplete", retrieved.JobID)
	assert.Equal(t, ExecutionStatusRunning, retrieved.Status)
	assert.True(t, startedAt.Equal(retrieved.StartedAt))
	assert.Nil(t, retrieved.CompletedAt)
	assert.Nil(t, retrieved.DurationMs)
	assert.Nil(t, retrieved.ErrorMessage)
}

func TestAppendRejectsTerminalStatus(t *testing.T) {
	store := NewExecutionStore(createTestDB(t))

	exec := finish(runningExecution("exec-1", "job", time.Now()), ExecutionStatusSuccess, time.Second)
	err := store.Append(context.Background(), exec)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestGetExecution_NotFound(t *testing.T) {
	store := NewExecutionStore(createTestDB(t))

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestFinalizeExecution(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore(createTestDB(t))

	exec := runningExecution("exec-1", "job", time.Now())
	require.NoError(t, store.Append(ctx, exec))

	finish(exec, ExecutionStatusSuccess, 1500*time.Millisecond)
	exec.ItemsProcessed = 3
	exec.ItemsSuccessful = 2
	exec.ItemsFailed = 1
	exec.ResultSummary = util.Ptr("3 evaluated, 1 completed, 1 errors")
	require.NoError(t, store.Finalize(ctx, exec))

	retrieved, err := store.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusSuccess, retrieved.Status)
	require.NotNil(t, retrieved.DurationMs)
	assert.Equal(t, int64(1500), *retrieved.DurationMs)
	require.NotNil(t, retrieved.CompletedAt)
	assert.Equal(t, 3, retrieved.ItemsProcessed)
	assert.Equal(t, 2, retrieved.ItemsSuccessful)
	assert.Equal(t, 1, retrieved.ItemsFailed)
	require.NotNil(t, retrieved.ResultSummary)
	assert.Equal(t, "3 evaluated, 1 completed, 1 errors", *retrieved.ResultSummary)
}

func TestFinalizeExecution_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore(createTestDB(t))

	exec := runningExecution("exec-1", "job", time.Now())
	require.NoError(t, store.Append(ctx, exec))
	require.NoError(t, store.Finalize(ctx, finish(exec, ExecutionStatusFailure, time.Second)))

	// A terminal status never reverts
	exec.Status = ExecutionStatusSuccess
	err := store.Finalize(ctx, exec)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidStateError(err))

	retrieved, err := store.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusFailure, retrieved.Status)
}

func TestFinalizeExecution_RequiresTerminalStatus(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore(createTestDB(t))

	exec := runningExecution("exec-1", "job", time.Now())
	require.NoError(t, store.Append(ctx, exec))

	err := store.Finalize(ctx, exec)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestFinalizeExecution_Missing(t *testing.T) {
	store := NewExecutionStore(createTestDB(t))

	exec := finish(runningExecution("ghost", "job", time.Now()), ExecutionStatusSuccess, time.Second)
	err := store.Finalize(context.Background(), exec)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestItemCountsConstraint(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore(createTestDB(t))

	exec := runningExecution("exec-1", "job", time.Now())
	require.NoError(t, store.Append(ctx, exec))

	finish(exec, ExecutionStatusSuccess, time.Second)
	exec.ItemsProcessed = 1
	exec.ItemsSuccessful = 1
	exec.ItemsFailed = 1
	err := store.Finalize(ctx, exec)
	require.Error(t, err)
	assert.True(t, errors.IsPersistenceError(err))
}

func TestQueryExecutions(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore(createTestDB(t))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// 5 runs for job-a alternating success/failure, 2 runs for job-b
	for i := 0; i < 5; i++ {
		exec := runningExecution(fmt.Sprintf("a-%d", i), "job-a", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, store.Append(ctx, exec))
		status := ExecutionStatusSuccess
		if i%2 == 1 {
			status = ExecutionStatusFailure
		}
		require.NoError(t, store.Finalize(ctx, finish(exec, status, time.Second)))
	}
	for i := 0; i < 2; i++ {
		exec := runningExecution(fmt.Sprintf("b-%d", i), "job-b", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Append(ctx, exec))
	}

	t.Run("newest first", func(t *testing.T) {
		execs, total, err := store.Query(ctx, HistoryFilter{JobID: "job-a"})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, execs, 5)
		assert.Equal(t, "a-4", execs[0].ID)
		assert.Equal(t, "a-0", execs[4].ID)
	})

	t.Run("pagination", func(t *testing.T) {
		execs, total, err := store.Query(ctx, HistoryFilter{JobID: "job-a", Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, execs, 2)
		assert.Equal(t, "a-2", execs[0].ID)
		assert.Equal(t, "a-1", execs[1].ID)
	})

	t.Run("by status", func(t *testing.T) {
		execs, total, err := store.Query(ctx, HistoryFilter{Status: ExecutionStatusFailure})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		for _, e := range execs {
			assert.Equal(t, ExecutionStatusFailure, e.Status)
		}
	})

	t.Run("since", func(t *testing.T) {
		since := base.Add(3 * time.Hour)
		_, total, err := store.Query(ctx, HistoryFilter{JobID: "job-a", Since: &since})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})

	t.Run("all jobs", func(t *testing.T) {
		_, total, err := store.Query(ctx, HistoryFilter{})
		require.NoError(t, err)
		assert.Equal(t, 7, total)
	})
}

func TestStats_Empty(t *testing.T) {
	store := NewExecutionStore(createTestDB(t))

	stats, err := store.Stats(context.Background(), StatsFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalRuns)
	assert.Equal(t, 0.0, stats.SuccessRate)
	assert.Equal(t, 0.0, stats.AvgDurationMs)
	assert.Nil(t, stats.LastRunAt)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore(createTestDB(t))
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	runs := []struct {
		status   ExecutionStatus
		duration time.Duration
	}{
		{ExecutionStatusSuccess, 100 * time.Millisecond},
		{ExecutionStatusSuccess, 300 * time.Millisecond},
		{ExecutionStatusSuccess, 200 * time.Millisecond},
		{ExecutionStatusFailure, 400 * time.Millisecond},
	}
	for i, r := range runs {
		exec := runningExecution(fmt.Sprintf("run-%d", i), "job", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Append(ctx, exec))
		require.NoError(t, store.Finalize(ctx, finish(exec, r.status, r.duration)))
	}

	// Skipped triggers are counted separately and do not move the last run time
	skippedAt := base.Add(time.Hour)
	require.NoError(t, store.Append(ctx, finish(runningExecution("skip", "job", skippedAt), ExecutionStatusSkipped, 0)))

	stats, err := store.Stats(ctx, StatsFilter{JobID: "job"})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalRuns)
	assert.Equal(t, 3, stats.SuccessCount)
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, 1, stats.SkippedCount)
	assert.InDelta(t, 75.0, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 250.0, stats.AvgDurationMs, 1e-9)
	require.NotNil(t, stats.LastRunAt)
	assert.True(t, base.Add(3*time.Minute).Equal(*stats.LastRunAt))

	other, err := store.Stats(ctx, StatsFilter{JobID: "other"})
	require.NoError(t, err)
	assert.Equal(t, 0, other.TotalRuns)
}

func TestTrimJob(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore(createTestDB(t))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		exec := runningExecution(fmt.Sprintf("a-%d", i), "job-a", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Append(ctx, exec))
		require.NoError(t, store.Finalize(ctx, finish(exec, ExecutionStatusSuccess, time.Second)))
	}
	other := runningExecution("b-0", "job-b", base)
	require.NoError(t, store.Append(ctx, other))
	require.NoError(t, store.Finalize(ctx, finish(other, ExecutionStatusSuccess, time.Second)))

	deleted, err := store.TrimJob(ctx, "job-a", 4)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	execs, total, err := store.Query(ctx, HistoryFilter{JobID: "job-a"})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, "a-5", execs[0].ID)
	assert.Equal(t, "a-2", execs[3].ID)

	// Other jobs are untouched
	_, err = store.Get(ctx, "b-0")
	require.NoError(t, err)

	deleted, err = store.TrimJob(ctx, "job-a", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestTrimJob_KeepsRunningRecords(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore(createTestDB(t))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	old := runningExecution("old-running", "job", base)
	require.NoError(t, store.Append(ctx, old))
	for i := 1; i <= 3; i++ {
		exec := runningExecution(fmt.Sprintf("done-%d", i), "job", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Append(ctx, exec))
		require.NoError(t, store.Finalize(ctx, finish(exec, ExecutionStatusSuccess, time.Second)))
	}

	_, err := store.TrimJob(ctx, "job", 1)
	require.NoError(t, err)

	_, err = store.Get(ctx, "old-running")
	require.NoError(t, err)
}

func TestCleanupOlderThan(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore(createTestDB(t))
	now := time.Now()

	old := runningExecution("old", "job", now.Add(-48*time.Hour))
	require.NoError(t, store.Append(ctx, old))
	require.NoError(t, store.Finalize(ctx, finish(old, ExecutionStatusSuccess, time.Second)))

	stuck := runningExecution("stuck", "job", now.Add(-48*time.Hour))
	require.NoError(t, store.Append(ctx, stuck))

	recent := runningExecution("recent", "job", now.Add(-time.Hour))
	require.NoError(t, store.Append(ctx, recent))
	require.NoError(t, store.Finalize(ctx, finish(recent, ExecutionStatusSuccess, time.Second)))

	deleted, err := store.CleanupOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.Get(ctx, "old")
	assert.True(t, errors.IsNotFoundError(err))
	_, err = store.Get(ctx, "stuck")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "recent")
	assert.NoError(t, err)
}

func TestAbandonRunning(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore(createTestDB(t))

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, runningExecution("left-over", "job", now.Add(-time.Minute))))

	n, err := store.AbandonRunning(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exec, err := store.Get(ctx, "left-over")
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusFailure, exec.Status)
	require.NotNil(t, exec.ErrorMessage)
	assert.Contains(t, *exec.ErrorMessage, "abandoned")
	require.NotNil(t, exec.DurationMs, "closed records carry a duration")
	assert.Equal(t, int64(60000), *exec.DurationMs)
	require.NotNil(t, exec.CompletedAt)
	assert.True(t, exec.CompletedAt.Equal(now))

	n, err = store.AbandonRunning(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "finished records are left alone")

	running, err := store.CountRunning(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 0, running)
}
