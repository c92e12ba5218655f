// Package notify delivers experiment outcome alerts.
//
// Alerts are fire-and-forget: a Dispatcher queues them and delivers through a
// Notifier at a bounded rate. Delivery failures are logged and counted but never
// reach the code that produced the alert.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/robertclapp/accessai-sub004/errors"
)

// Notification is the payload emitted when an experiment completes with a winner
type Notification struct {
	ExperimentID    string    `json:"experiment_id"`
	ExperimentName  string    `json:"experiment_name"`
	WinnerLabel     string    `json:"winner_label"`
	ConfidenceLevel int       `json:"confidence_level"`
	RateDifference  float64   `json:"rate_difference"` // percentage points
	CompletedAt     time.Time `json:"completed_at"`
}

// Message renders the notification for humans
func (n Notification) Message() string {
	return fmt.Sprintf("Experiment %q completed: variant %q won at %d%% confidence (+%.1f pp open rate)",
		n.ExperimentName, n.WinnerLabel, n.ConfidenceLevel, n.RateDifference)
}

// Notifier delivers a notification to one destination
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Multi fans a notification out to every notifier. All are attempted; the
// returned error combines every failure.
type Multi []Notifier

// Notify delivers to each notifier in order
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var combined error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			combined = errors.CombineErrors(combined, err)
		}
	}
	return combined
}
