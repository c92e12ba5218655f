package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/robertclapp/accessai-sub004/logger"
)

// LogNotifier writes notifications to the structured log.
// It is always configured, so outcomes are visible even without a chat destination.
type LogNotifier struct {
	log *zap.SugaredLogger
}

// NewLogNotifier creates a log notifier
func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	if log == nil {
		log = logger.Logger
	}
	return &LogNotifier{log: logger.AddNotifySymbol(log)}
}

// Notify logs the notification
func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.log.Infow(n.Message(),
		logger.FieldExperimentID, n.ExperimentID,
		"winner", n.WinnerLabel,
		"confidence_level", n.ConfidenceLevel,
		"rate_difference", n.RateDifference)
	return nil
}
