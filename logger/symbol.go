package logger

import (
	"go.uber.org/zap"

	"github.com/robertclapp/accessai-sub004/sym"
)

// Symbol-aware logging helpers.
// These functions log with the symbol as a structured field, not in the message.
//
// Usage:
//
//	logger.SchedulerInfow("Job started", "job_id", id)
//
// This makes logs queryable by symbol and keeps messages clean.

// SchedulerInfow logs an info message with the Scheduler symbol (꩜)
func SchedulerInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Scheduler}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// SchedulerWarnw logs a warning message with the Scheduler symbol (꩜)
func SchedulerWarnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Scheduler}, keysAndValues...)
		Logger.Warnw(msg, fields...)
	}
}

// WithSymbol returns the global logger with the given symbol as a field.
func WithSymbol(symbol string) *zap.SugaredLogger {
	return Logger.With(FieldSymbol, symbol)
}

// Instance logger wrappers: add a symbol to an injected logger.
//
//	t.log = logger.AddSchedulerSymbol(baseLogger)

// AddSchedulerSymbol wraps a logger with the Scheduler symbol (꩜)
func AddSchedulerSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Scheduler)
}

// AddOpenSymbol wraps a logger with the Open symbol (✿)
func AddOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Open)
}

// AddCloseSymbol wraps a logger with the Close symbol (❀)
func AddCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Close)
}

// AddDBSymbol wraps a logger with the DB symbol (⊔)
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.DB)
}

// AddExperimentSymbol wraps a logger with the Experiment symbol (⚖)
func AddExperimentSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Experiment)
}

// AddNotifySymbol wraps a logger with the Notify symbol (✉)
func AddNotifySymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Notify)
}
