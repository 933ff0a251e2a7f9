// Package exception provides custom error types and error handling utilities for the Riptide batch engine.
// It standardizes errors that occur during batch processing, allowing them to be categorized
// by kind and classified for retry.
package exception

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Kind classifies a BatchError into one of the engine's error categories.
type Kind string

const (
	// KindNotFound indicates a lookup for an unknown batch or job identifier.
	KindNotFound Kind = "NOT_FOUND"
	// KindInvalidConfig indicates a malformed or unacceptable batch submission.
	KindInvalidConfig Kind = "INVALID_CONFIG"
	// KindValidation indicates a job input rejected by the validator. Never retried.
	KindValidation Kind = "VALIDATION"
	// KindExecution indicates a task executor failure or per-job timeout. Retryable.
	KindExecution Kind = "EXECUTION"
	// KindPersistence indicates a failure of the backing store.
	KindPersistence Kind = "PERSISTENCE"
	// KindInternal indicates an unexpected engine-level failure.
	KindInternal Kind = "INTERNAL"
)

// BatchError is a custom error type that occurs during batch processing.
// It holds the module where the error occurred, a message, the error kind,
// the wrapped original error, and a flag indicating whether it is retryable.
type BatchError struct {
	// Module indicates the module where the error occurred (e.g., "controller", "scheduler", "repository").
	Module string
	// Message is a concise description of the error.
	Message string
	// Kind categorizes the error.
	Kind Kind
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// isRetryable indicates whether this error is retryable.
	isRetryable bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewBatchError creates a new BatchError instance.
// module: The module where the error occurred.
// message: The error message.
// kind: The error category.
// originalErr: The original error to wrap.
// isRetryable: Whether this error is retryable.
// Returns: A new BatchError instance.
func NewBatchError(module, message string, kind Kind, originalErr error, isRetryable bool) *BatchError {
	// Capture stack trace (for debugging purposes)
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	stackTrace := string(buf[:n])

	return &BatchError{
		Module:      module,
		Message:     message,
		Kind:        kind,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		StackTrace:  stackTrace,
	}
}

// NewNotFoundError creates a BatchError for a lookup of an unknown identifier.
func NewNotFoundError(module, format string, a ...interface{}) *BatchError {
	return NewBatchError(module, fmt.Sprintf(format, a...), KindNotFound, nil, false)
}

// NewInvalidConfigError creates a BatchError for a rejected batch submission.
func NewInvalidConfigError(module, message string, originalErr error) *BatchError {
	return NewBatchError(module, message, KindInvalidConfig, originalErr, false)
}

// NewValidationFailure creates a BatchError for a job input rejected by the validator.
// Validation failures are terminal for the job and are never retried.
func NewValidationFailure(module, message string, originalErr error) *BatchError {
	return NewBatchError(module, message, KindValidation, originalErr, false)
}

// NewExecutionFailure creates a BatchError for a task executor failure or timeout.
// Execution failures are retryable subject to the batch retry policy.
func NewExecutionFailure(module, message string, originalErr error) *BatchError {
	return NewBatchError(module, message, KindExecution, originalErr, true)
}

// NewPersistenceFailure creates a BatchError for a failure of the backing store.
func NewPersistenceFailure(module, message string, originalErr error) *BatchError {
	return NewBatchError(module, message, KindPersistence, originalErr, false)
}

// NewInternalError creates a BatchError for an unexpected engine-level failure.
func NewInternalError(module, message string, originalErr error) *BatchError {
	return NewBatchError(module, message, KindInternal, originalErr, false)
}

// Error implements the error interface.
// It returns the error's module, message, and the string representation of the original error.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// ErrOptimisticLock is a sentinel error indicating a versioned update lost the race.
var ErrOptimisticLock = errors.New("optimistic lock conflict")

// IsOptimisticLock determines if an error indicates an optimistic locking failure.
func IsOptimisticLock(err error) bool {
	return errors.Is(err, ErrOptimisticLock)
}

// IsBatchError determines if the given error is of type BatchError.
func IsBatchError(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	return errors.As(err, &be)
}

// KindOf returns the Kind of the first BatchError in the chain,
// or KindInternal if the error is not a BatchError.
func KindOf(err error) Kind {
	var be *BatchError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain contains a BatchError of the given kind.
func IsKind(err error, kind Kind) bool {
	var be *BatchError
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// IsRetryable determines if an error is retryable.
// If it's a BatchError, its IsRetryable flag takes precedence.
// Otherwise common transient failure signatures are matched.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Prioritize the IsRetryable flag of BatchError.
	var be *BatchError
	if errors.As(err, &be) {
		return be.IsRetryable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "deadline exceeded")
}

// ExtractErrorMessage extracts the error message string from an error.
// For BatchError, it returns the cleaner Message field.
// Otherwise, it returns the standard Error() string.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
