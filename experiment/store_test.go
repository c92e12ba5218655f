package experiment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertclapp/accessai-sub004/errors"
)

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusDraft.CanTransitionTo(StatusRunning))
	assert.True(t, StatusRunning.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusRunning.CanTransitionTo(StatusCancelled))

	assert.False(t, StatusDraft.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusDraft.CanTransitionTo(StatusCancelled))
	assert.False(t, StatusCancelled.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusRunning))
	assert.False(t, StatusRunning.CanTransitionTo(StatusDraft))

	_, err := ParseStatus("paused")
	assert.True(t, errors.IsInvalidRequestError(err))
	st, err := ParseStatus("running")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st)
}

func TestStoreGet_WithVariants(t *testing.T) {
	_, svc := newTestService(t)
	exp := runningExperiment(t, svc, "Welcome email", counts{"A", 10, 4}, counts{"B", 12, 3})

	assert.Equal(t, StatusRunning, exp.Status)
	require.NotNil(t, exp.StartedAt)
	assert.Nil(t, exp.CompletedAt)
	assert.Nil(t, exp.WinningVariantID)
	require.Len(t, exp.Variants, 2)
	assert.Equal(t, "A", exp.Variants[0].Label)
	assert.Equal(t, 0, exp.Variants[0].Position)
	assert.Equal(t, "B", exp.Variants[1].Label)
	assert.Equal(t, 1, exp.Variants[1].Position)
	assert.Equal(t, 22, exp.TotalSent())
	assert.InDelta(t, 0.4, exp.Variants[0].OpenRate(), 1e-9)
}

func TestStoreGet_NotFound(t *testing.T) {
	store, _ := newTestService(t)

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	store, svc := newTestService(t)

	runningExperiment(t, svc, "one", counts{"A", 1, 0}, counts{"B", 1, 0})
	_, err := svc.CreateExperiment(ctx, CreateParams{Name: "draft"})
	require.NoError(t, err)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	run, err := store.ListRunning(ctx)
	require.NoError(t, err)
	require.Len(t, run, 1)
	assert.Equal(t, "one", run[0].Name)
	assert.Len(t, run[0].Variants, 2)

	drafts, err := store.List(ctx, StatusDraft)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Empty(t, drafts[0].Variants)
}

func TestStoreAddVariant_OnlyWhileDraft(t *testing.T) {
	ctx := context.Background()
	store, svc := newTestService(t)
	exp := runningExperiment(t, svc, "locked", counts{"A", 0, 0}, counts{"B", 0, 0})

	err := store.AddVariant(ctx, &Variant{ID: "late", ExperimentID: exp.ID, Label: "C", Weight: 1, CreatedAt: t0})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidStateError(err))

	err = store.AddVariant(ctx, &Variant{ID: "orphan", ExperimentID: "missing", Label: "C", Weight: 1, CreatedAt: t0})
	assert.True(t, errors.IsNotFoundError(err))

	got, err := store.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Len(t, got.Variants, 2)
}

func TestStoreStart_RequiresTwoVariants(t *testing.T) {
	ctx := context.Background()
	store, svc := newTestService(t)

	exp, err := svc.CreateExperiment(ctx, CreateParams{Name: "needs variants"})
	require.NoError(t, err)

	err = store.Start(ctx, exp.ID, t0)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidStateError(err))

	_, err = svc.AddVariant(ctx, exp.ID, VariantParams{Label: "A"})
	require.NoError(t, err)
	err = store.Start(ctx, exp.ID, t0)
	assert.True(t, errors.IsInvalidStateError(err), "one variant is still too few")

	_, err = svc.AddVariant(ctx, exp.ID, VariantParams{Label: "B"})
	require.NoError(t, err)
	require.NoError(t, store.Start(ctx, exp.ID, t0), "exactly two variants is enough")

	// Starting twice is an illegal transition
	assert.True(t, errors.IsInvalidStateError(store.Start(ctx, exp.ID, t0)))
}

func TestStoreTransition_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	store, svc := newTestService(t)
	exp := runningExperiment(t, svc, "cas", counts{"A", 0, 0}, counts{"B", 0, 0})

	require.NoError(t, store.Transition(ctx, exp.ID, StatusRunning, StatusCancelled, t0))

	// The same transition again finds the row no longer running
	err := store.Transition(ctx, exp.ID, StatusRunning, StatusCancelled, t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleTransition))
	assert.True(t, errors.Is(err, errors.ErrConflict))

	// A cancelled experiment never completes, even with a stale view of it
	err = store.Complete(ctx, exp.ID, exp.Variants[0].ID, t0)
	assert.True(t, errors.Is(err, ErrStaleTransition))

	got, err := store.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Nil(t, got.WinningVariantID)
	require.NotNil(t, got.CompletedAt)
}

func TestStoreTransition_IllegalMoves(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestService(t)

	assert.True(t, errors.IsInvalidStateError(store.Transition(ctx, "x", StatusCancelled, StatusRunning, t0)))
	assert.True(t, errors.IsInvalidStateError(store.Transition(ctx, "x", StatusDraft, StatusCompleted, t0)))
	assert.True(t, errors.IsInvalidRequestError(store.Transition(ctx, "x", StatusRunning, StatusCompleted, t0)))
}

func TestStoreComplete(t *testing.T) {
	ctx := context.Background()
	store, svc := newTestService(t)
	exp := runningExperiment(t, svc, "complete", counts{"A", 0, 0}, counts{"B", 0, 0})
	other := runningExperiment(t, svc, "other", counts{"X", 0, 0}, counts{"Y", 0, 0})

	err := store.Complete(ctx, exp.ID, other.Variants[0].ID, t0)
	assert.True(t, errors.IsInvalidRequestError(err), "winner must belong to the experiment")

	completedAt := t0.Add(time.Hour)
	require.NoError(t, store.Complete(ctx, exp.ID, exp.Variants[1].ID, completedAt))

	got, err := store.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.WinningVariantID)
	assert.Equal(t, exp.Variants[1].ID, *got.WinningVariantID)
	assert.True(t, completedAt.Equal(*got.CompletedAt))

	assert.True(t, errors.Is(store.Complete(ctx, exp.ID, exp.Variants[1].ID, t0), ErrStaleTransition))
	assert.True(t, errors.Is(store.Transition(ctx, exp.ID, StatusRunning, StatusCancelled, t0), ErrStaleTransition))
}

func TestIncrementVariantCounters(t *testing.T) {
	ctx := context.Background()
	store, svc := newTestService(t)

	draft, err := svc.CreateExperiment(ctx, CreateParams{Name: "draft"})
	require.NoError(t, err)
	dv, err := svc.AddVariant(ctx, draft.ID, VariantParams{Label: "A"})
	require.NoError(t, err)

	err = store.IncrementVariantCounters(ctx, dv.ID, 1, 0, 0)
	assert.True(t, errors.IsInvalidStateError(err), "counters stay frozen before start")

	exp := runningExperiment(t, svc, "counting", counts{"A", 10, 5}, counts{"B", 0, 0})
	vid := exp.Variants[0].ID

	require.NoError(t, store.IncrementVariantCounters(ctx, vid, 2, 1, 1))
	v, err := store.GetVariant(ctx, vid)
	require.NoError(t, err)
	assert.Equal(t, 12, v.SentCount)
	assert.Equal(t, 6, v.OpenedCount)
	assert.Equal(t, 1, v.ClickedCount)

	t.Run("negative delta", func(t *testing.T) {
		assert.True(t, errors.IsInvalidRequestError(store.IncrementVariantCounters(ctx, vid, -1, 0, 0)))
	})

	t.Run("opened beyond sent", func(t *testing.T) {
		err := store.IncrementVariantCounters(ctx, vid, 0, 7, 0)
		require.Error(t, err)
		assert.True(t, errors.IsInvalidRequestError(err))
	})

	t.Run("clicked beyond opened", func(t *testing.T) {
		err := store.IncrementVariantCounters(ctx, vid, 0, 0, 6)
		assert.True(t, errors.IsInvalidRequestError(err))
	})

	t.Run("unknown variant", func(t *testing.T) {
		assert.True(t, errors.IsNotFoundError(store.IncrementVariantCounters(ctx, "missing", 1, 0, 0)))
	})

	v, err = store.GetVariant(ctx, vid)
	require.NoError(t, err)
	assert.Equal(t, 12, v.SentCount, "rejected updates leave counters unchanged")
	assert.Equal(t, 6, v.OpenedCount)
}

func TestStore_PersistenceErrorPropagates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(fmt.Errorf("database disk image is malformed"))
	mock.ExpectExec("UPDATE experiments").WillReturnError(fmt.Errorf("database is locked"))

	store := NewStore(db)
	_, err = store.ListRunning(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsPersistenceError(err))

	err = store.Transition(context.Background(), "exp", StatusRunning, StatusCancelled, t0)
	require.Error(t, err)
	assert.True(t, errors.IsPersistenceError(err))
	assert.False(t, errors.Is(err, ErrStaleTransition))

	assert.NoError(t, mock.ExpectationsWereMet())
}
