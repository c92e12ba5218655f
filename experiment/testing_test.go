package experiment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	accesstest "github.com/robertclapp/accessai-sub004/internal/testing"
	"github.com/robertclapp/accessai-sub004/logger"
	"github.com/robertclapp/accessai-sub004/notify"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...ServiceOption) (*Store, *Service) {
	t.Helper()
	store := NewStore(accesstest.CreateTestDB(t))
	opts = append([]ServiceOption{WithServiceClock(func() time.Time { return t0 })}, opts...)
	return store, NewService(store, DefaultDefaults(), logger.Logger, opts...)
}

type counts struct {
	label        string
	sent, opened int
}

// runningExperiment creates and starts an experiment whose variants have the given counters
func runningExperiment(t *testing.T, svc *Service, name string, variants ...counts) *Experiment {
	t.Helper()
	ctx := context.Background()

	exp, err := svc.CreateExperiment(ctx, CreateParams{Name: name})
	require.NoError(t, err)

	ids := make([]string, 0, len(variants))
	for _, c := range variants {
		v, err := svc.AddVariant(ctx, exp.ID, VariantParams{Label: c.label, Subject: "Subject " + c.label})
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}

	_, err = svc.StartExperiment(ctx, exp.ID)
	require.NoError(t, err)

	for i, c := range variants {
		require.NoError(t, svc.RecordSend(ctx, ids[i], c.sent))
		require.NoError(t, svc.RecordOpen(ctx, ids[i], c.opened))
	}

	exp, err = svc.Get(ctx, exp.ID)
	require.NoError(t, err)
	return exp
}

// recordingQueue captures notifications instead of delivering them
type recordingQueue struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (q *recordingQueue) Enqueue(n notify.Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, n)
	return true
}

func (q *recordingQueue) all() []notify.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]notify.Notification(nil), q.sent...)
}
