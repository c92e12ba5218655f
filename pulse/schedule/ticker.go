package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/robertclapp/accessai-sub004/logger"
	"github.com/robertclapp/accessai-sub004/sym"
)

// Ticker drives Scheduler.Tick on a fixed interval
type Ticker struct {
	scheduler *Scheduler
	interval  time.Duration
	parent    context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	log       *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	lastStarted     int
}

// TickerConfig contains configuration for the ticker
type TickerConfig struct {
	Interval time.Duration // How often Tick is called (default: 1 minute)
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval: time.Minute,
	}
}

// NewTicker creates a ticker for the scheduler
func NewTicker(scheduler *Scheduler, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), scheduler, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context.
// Runs started by the ticker inherit the parent context, not the ticker loop's,
// so Stop lets them finish.
func NewTickerWithContext(ctx context.Context, scheduler *Scheduler, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if log == nil {
		log = logger.Logger
	}
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		scheduler: scheduler,
		interval:  cfg.Interval,
		parent:    ctx,
		ctx:       tickerCtx,
		cancel:    cancel,
		log:       logger.AddSchedulerSymbol(log),
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.log.Infow("Scheduler ticker started", "interval", t.interval)
}

// Stop stops the loop and waits for runs already in flight
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.scheduler.Wait()
	t.log.Infow("Scheduler ticker stopped")
}

// run is the main ticker loop
func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.tick(tickTime)
		}
	}
}

func (t *Ticker) tick(now time.Time) {
	t.mu.Lock()
	t.lastTickAt = now
	t.ticksSinceStart++
	t.mu.Unlock()

	started := t.scheduler.Tick(t.parent, now)
	t.logNextJobInfo(now, started)
}

// logNextJobInfo logs what the tick started and when the next job is due.
// Quiet ticks are only logged when the number of started runs changes.
func (t *Ticker) logNextJobInfo(now time.Time, started []string) {
	t.mu.Lock()
	hasChanged := len(started) != t.lastStarted
	t.lastStarted = len(started)
	t.mu.Unlock()

	if !hasChanged && len(started) == 0 {
		return
	}

	indicator := ""
	if len(started) > 0 {
		indicator = strings.Repeat(sym.Scheduler+" ", min(len(started), 10))
	}

	next := t.scheduler.NextDue()
	if next == nil {
		t.log.Infow(fmt.Sprintf("%sScheduler - no enabled jobs", indicator), "started", started)
		return
	}

	timeUntil := next.NextRunAt.Sub(now)
	if timeUntil < 0 {
		timeUntil = 0
	}
	t.log.Infow(fmt.Sprintf("%sScheduler - next job '%s' in %s", indicator, next.ID, timeUntil.Round(time.Second)),
		"started", started)
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
	}
}
