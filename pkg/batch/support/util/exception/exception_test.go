package exception_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tidewave/riptide/pkg/batch/support/util/exception"

	"github.com/stretchr/testify/assert"
)

func TestNewBatchError(t *testing.T) {
	originalErr := errors.New("db connection refused")
	be := exception.NewBatchError("repository", "failed to connect", exception.KindPersistence, originalErr, true)

	assert.Equal(t, "repository", be.Module)
	assert.Equal(t, "failed to connect", be.Message)
	assert.Equal(t, exception.KindPersistence, be.Kind)
	assert.Equal(t, originalErr, be.Unwrap())
	assert.True(t, be.IsRetryable())
	assert.Contains(t, be.Error(), "[repository] failed to connect: db connection refused")
	assert.NotEmpty(t, be.StackTrace)
}

func TestKindConstructors(t *testing.T) {
	nf := exception.NewNotFoundError("controller", "batch %s not found", "b-1")
	assert.Equal(t, exception.KindNotFound, nf.Kind)
	assert.False(t, nf.IsRetryable())
	assert.Contains(t, nf.Error(), "batch b-1 not found")

	ic := exception.NewInvalidConfigError("controller", "bad override", nil)
	assert.Equal(t, exception.KindInvalidConfig, ic.Kind)
	assert.False(t, ic.IsRetryable())

	vf := exception.NewValidationFailure("scheduler", "input rejected", nil)
	assert.Equal(t, exception.KindValidation, vf.Kind)
	assert.False(t, vf.IsRetryable())

	ef := exception.NewExecutionFailure("scheduler", "task blew up", nil)
	assert.Equal(t, exception.KindExecution, ef.Kind)
	assert.True(t, ef.IsRetryable())

	pf := exception.NewPersistenceFailure("repository", "write failed", nil)
	assert.Equal(t, exception.KindPersistence, pf.Kind)
	assert.False(t, pf.IsRetryable())

	ie := exception.NewInternalError("scheduler", "impossible state", nil)
	assert.Equal(t, exception.KindInternal, ie.Kind)
	assert.False(t, ie.IsRetryable())
}

func TestKindInspection(t *testing.T) {
	vf := exception.NewValidationFailure("scheduler", "input rejected", nil)

	assert.True(t, exception.IsBatchError(vf))
	assert.True(t, exception.IsKind(vf, exception.KindValidation))
	assert.False(t, exception.IsKind(vf, exception.KindExecution))
	assert.Equal(t, exception.KindValidation, exception.KindOf(vf))

	// Wrapped BatchErrors are still found through the chain.
	wrapped := fmt.Errorf("outer: %w", vf)
	assert.True(t, exception.IsBatchError(wrapped))
	assert.True(t, exception.IsKind(wrapped, exception.KindValidation))

	// Plain errors fall back to KindInternal.
	plain := errors.New("plain")
	assert.False(t, exception.IsBatchError(plain))
	assert.Equal(t, exception.KindInternal, exception.KindOf(plain))
	assert.False(t, exception.IsBatchError(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, exception.IsRetryable(nil))

	// BatchError flag takes precedence.
	assert.True(t, exception.IsRetryable(exception.NewExecutionFailure("m", "x", nil)))
	assert.False(t, exception.IsRetryable(exception.NewValidationFailure("m", "x", nil)))

	// Plain errors fall back to transient signatures.
	assert.True(t, exception.IsRetryable(errors.New("dial tcp: connection refused")))
	assert.True(t, exception.IsRetryable(errors.New("i/o timeout")))
	assert.True(t, exception.IsRetryable(errors.New("context deadline exceeded")))
	assert.False(t, exception.IsRetryable(errors.New("syntax error")))
}

func TestIsOptimisticLock(t *testing.T) {
	assert.False(t, exception.IsOptimisticLock(nil))
	assert.False(t, exception.IsOptimisticLock(errors.New("other")))
	assert.True(t, exception.IsOptimisticLock(exception.ErrOptimisticLock))

	// The sentinel is found through a BatchError wrapper.
	wrapped := exception.NewPersistenceFailure("repository", "version 3 not found for update", exception.ErrOptimisticLock)
	assert.True(t, exception.IsOptimisticLock(wrapped))

	// And through further fmt wrapping.
	assert.True(t, exception.IsOptimisticLock(fmt.Errorf("retrying: %w", wrapped)))
}

func TestExtractErrorMessage(t *testing.T) {
	assert.Equal(t, "", exception.ExtractErrorMessage(nil))
	assert.Equal(t, "plain failure", exception.ExtractErrorMessage(errors.New("plain failure")))

	// BatchError yields the clean Message, not the bracketed Error() form.
	be := exception.NewExecutionFailure("scheduler", "task blew up", errors.New("root"))
	assert.Equal(t, "task blew up", exception.ExtractErrorMessage(be))
}
