package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldJobID        = "job_id"
	FieldExecutionID  = "execution_id"
	FieldExperimentID = "experiment_id"
	FieldVariantID    = "variant_id"

	// Components
	FieldComponent = "component"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Status
	FieldStatus = "status"

	// Symbol field (꩜, ⚖, ⊔, ...)
	FieldSymbol = "symbol"
)

// Context keys for propagating logging context
type contextKey string

const (
	jobIDKey       contextKey = "logger_job_id"
	executionIDKey contextKey = "logger_execution_id"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithExecutionID adds an execution record ID to the context for logging
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if execID, ok := ctx.Value(executionIDKey).(string); ok && execID != "" {
		fields = append(fields, FieldExecutionID, execID)
	}

	return fields
}

// FromContext returns base with the job and execution fields carried by ctx.
// Job bodies use this so their log lines can be joined to the execution record.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
