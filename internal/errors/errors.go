// Package errors provides centralized error definitions for the pipeline.
// It defines sentinel errors for conditions callers branch on, and typed
// errors carrying context for the manager and configuration layers.
//
// # Usage
//
//	err := errors.NewManagerError("start workers", errors.ErrStartupTimeout).
//		WithWorkers(3, 4)
//
//	if errors.Is(err, errors.ErrStartupTimeout) { ... }
//
//	var merr *errors.ManagerError
//	if errors.As(err, &merr) { ... }
//
// Step failures are not Go errors: they travel through the pipeline as
// error values (see package variant).
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Manager sentinel errors
var (
	// ErrStartupTimeout indicates workers did not register in time.
	ErrStartupTimeout = New("workers did not start in time")
	// ErrWorkerInit indicates a worker failed its initialization hook.
	ErrWorkerInit = New("worker initialization failed")
	// ErrNoSuchWorker indicates a worker number outside the pool.
	ErrNoSuchWorker = New("no such worker")
	// ErrClosed indicates the manager has been shut down.
	ErrClosed = New("manager is closed")
)

// Item sentinel errors
var (
	// ErrUnknownItem indicates an item identifier not present in configuration.
	ErrUnknownItem = New("unknown item")
	// ErrInvalidConfig indicates invalid item configuration.
	ErrInvalidConfig = New("invalid item configuration")
	// ErrDependencyCycle indicates dependent items forming a loop.
	ErrDependencyCycle = New("dependent item cycle")
)

// ManagerError describes a failure of a manager operation.
type ManagerError struct {
	Op      string
	Worker  int
	Started int
	Wanted  int
	cause   error
}

// NewManagerError creates a ManagerError for operation op.
func NewManagerError(op string, cause error) *ManagerError {
	return &ManagerError{Op: op, cause: cause}
}

// WithWorker records the worker number involved.
func (e *ManagerError) WithWorker(num int) *ManagerError {
	e.Worker = num
	return e
}

// WithWorkers records how many workers started out of how many were wanted.
func (e *ManagerError) WithWorkers(started, wanted int) *ManagerError {
	e.Started = started
	e.Wanted = wanted
	return e
}

// Error returns the formatted error message.
func (e *ManagerError) Error() string {
	var parts []string
	if e.Worker > 0 {
		parts = append(parts, fmt.Sprintf("worker=%d", e.Worker))
	}
	if e.Wanted > 0 {
		parts = append(parts, fmt.Sprintf("started=%d/%d", e.Started, e.Wanted))
	}

	prefix := "preprocessing manager"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("preprocessing manager [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Op, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Op)
}

// Unwrap returns the underlying error.
func (e *ManagerError) Unwrap() error {
	return e.cause
}

// TimeoutError represents an operation that did not finish in time.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a TimeoutError.
func NewTimeoutError(operation string, d time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: d}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Duration)
}

// Is matches ErrStartupTimeout so callers can test for the sentinel.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrStartupTimeout
}

// ConfigError describes a problem in an item configuration file.
type ConfigError struct {
	Path   string
	ItemID uint64
	Field  string
	cause  error
}

// NewConfigError creates a ConfigError for the file at path.
func NewConfigError(path string, cause error) *ConfigError {
	return &ConfigError{Path: path, cause: cause}
}

// WithItem records the item identifier.
func (e *ConfigError) WithItem(id uint64) *ConfigError {
	e.ItemID = id
	return e
}

// WithField records the offending field.
func (e *ConfigError) WithField(field string) *ConfigError {
	e.Field = field
	return e
}

func (e *ConfigError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, "file="+e.Path)
	}
	if e.ItemID != 0 {
		parts = append(parts, fmt.Sprintf("item=%d", e.ItemID))
	}
	if e.Field != "" {
		parts = append(parts, "field="+e.Field)
	}

	prefix := "item configuration"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("item configuration [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.cause
}

// Is matches ErrInvalidConfig for every configuration error.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Wrap wraps an error with additional context.
// Returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message.
// Returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
