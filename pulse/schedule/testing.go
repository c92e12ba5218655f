package schedule

import (
	"database/sql"
	"sync"
	"testing"
	"time"

	accesstest "github.com/robertclapp/accessai-sub004/internal/testing"
)

// createTestDB creates an in-memory test database.
func createTestDB(t *testing.T) *sql.DB {
	return accesstest.CreateTestDB(t)
}

// fakeClock is a settable clock for deterministic scheduling tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
