package notify

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/robertclapp/accessai-sub004/logger"
)

// DispatcherConfig contains queue and rate settings
type DispatcherConfig struct {
	QueueSize     int // buffered notifications before Enqueue drops
	RatePerMinute int // delivery rate; 0 means unlimited
}

// DefaultDispatcherConfig returns sensible defaults
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:     64,
		RatePerMinute: 30,
	}
}

// DispatcherStats counts what happened to enqueued notifications
type DispatcherStats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

// Dispatcher decouples producers from delivery. Enqueue never blocks;
// Run delivers queued notifications at the configured rate.
type Dispatcher struct {
	notifier Notifier
	queue    chan Notification
	limiter  *rate.Limiter
	timeout  time.Duration
	log      *zap.SugaredLogger

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewDispatcher creates a dispatcher delivering through notifier
func NewDispatcher(notifier Notifier, cfg DispatcherConfig, log *zap.SugaredLogger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultDispatcherConfig().QueueSize
	}
	if log == nil {
		log = logger.Logger
	}

	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(float64(cfg.RatePerMinute) / 60.0)
	}

	return &Dispatcher{
		notifier: notifier,
		queue:    make(chan Notification, cfg.QueueSize),
		limiter:  rate.NewLimiter(limit, 1),
		timeout:  30 * time.Second,
		log:      logger.AddNotifySymbol(log),
	}
}

// Enqueue queues a notification for delivery. It returns false, and drops the
// notification, when the queue is full.
func (d *Dispatcher) Enqueue(n Notification) bool {
	select {
	case d.queue <- n:
		return true
	default:
		d.dropped.Add(1)
		d.log.Warnw("Notification queue full, dropping notification",
			logger.FieldExperimentID, n.ExperimentID,
			"queue_size", cap(d.queue))
		return false
	}
}

// Run delivers notifications until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Debugw("Notification dispatcher started", "queue_size", cap(d.queue))
	for {
		select {
		case <-ctx.Done():
			if n := len(d.queue); n > 0 {
				d.log.Warnw("Notification dispatcher stopped with undelivered notifications", "pending", n)
			}
			return
		case n := <-d.queue:
			if err := d.limiter.Wait(ctx); err != nil {
				// ctx cancelled while waiting for a token
				d.dropped.Add(1)
				return
			}
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	deliverCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.notifier.Notify(deliverCtx, n); err != nil {
		d.failed.Add(1)
		d.log.Errorw("Notification delivery failed",
			logger.FieldExperimentID, n.ExperimentID,
			logger.FieldError, err)
		return
	}
	d.delivered.Add(1)
}

// Stats returns delivery counters
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Queued:    len(d.queue),
	}
}
