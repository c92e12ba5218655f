// Package errors provides error handling for accessai.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Error marks so a wrapped driver error still answers errors.Is for a domain sentinel
//
// Usage:
//
//	// Wrap with context
//	if err := store.Append(ctx, rec); err != nil {
//	    return errors.Wrap(err, "failed to open execution record")
//	}
//
//	// Check domain errors
//	if errors.Is(err, errors.ErrInvalidState) {
//	    // reject the operation
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark

	// CombineErrors keeps the first error and attaches the second as a secondary cause
	CombineErrors = crdb.CombineErrors
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Generic sentinel errors.
// Use these with errors.Is() for type-safe error checking.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")

	// ErrConflict indicates a resource conflict (e.g., a lost compare-and-set)
	ErrConflict = New("resource conflict")
)

// Domain error taxonomy.
var (
	// ErrDuplicateJob is returned when a job id is registered twice
	ErrDuplicateJob = New("duplicate job")

	// ErrInvalidState is returned for illegal experiment transitions or mutations
	ErrInvalidState = New("invalid state")

	// ErrInsufficientData means an experiment has not gathered enough sends to be judged.
	// It never reaches users: the decision engine turns it into a continue verdict.
	ErrInsufficientData = New("insufficient data")

	// ErrJobExecution marks an uncaught failure inside a job body
	ErrJobExecution = New("job execution failed")

	// ErrPersistence marks a failure of the storage collaborator
	ErrPersistence = New("persistence failure")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsInvalidStateError checks if an error is or wraps ErrInvalidState
func IsInvalidStateError(err error) bool {
	return err != nil && Is(err, ErrInvalidState)
}

// IsPersistenceError checks if an error is or carries the ErrPersistence mark
func IsPersistenceError(err error) bool {
	return err != nil && Is(err, ErrPersistence)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}

// NewInvalidStateError creates an invalid-state error with a formatted message
func NewInvalidStateError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidState, format, args...)
}

// WrapPersistence wraps a storage error with context and marks it as ErrPersistence.
// The original error stays reachable through errors.Is / errors.As.
func WrapPersistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrPersistence)
}
