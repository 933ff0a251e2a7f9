package retry

import (
	"time"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	"github.com/tidewave/riptide/pkg/batch/support/util/exception"
)

// RetryPolicy is an interface that defines retry logic for job execution.
// This interface provides methods to determine if a specific error is retryable,
// and to determine the backoff interval between retries.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	// err: The error to evaluate.
	// Returns: true if the error is retryable, false otherwise.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the backoff interval for a given attempt number.
	// attempt: The current attempt number (starting from 1).
	// Returns: The waiting time until the next retry.
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxRetries returns the maximum number of retries after the first attempt.
	GetMaxRetries() int
}

// DefaultRetryPolicyFactory is a factory for creating RetryPolicy.
// This factory generates instances of defaultRetryPolicy from a batch's
// processing configuration.
type DefaultRetryPolicyFactory struct{}

// NewDefaultRetryPolicyFactory creates a new DefaultRetryPolicyFactory.
func NewDefaultRetryPolicyFactory() *DefaultRetryPolicyFactory {
	return &DefaultRetryPolicyFactory{}
}

// Create creates a new RetryPolicy instance from the given processing configuration.
// config: The processing configuration of the owning batch.
// Returns: A new RetryPolicy instance.
func (f *DefaultRetryPolicyFactory) Create(config model.ProcessingConfig) RetryPolicy {
	return &defaultRetryPolicy{
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
	}
}

// defaultRetryPolicy is the default implementation of RetryPolicy.
// This policy operates on the configured maximum retries and fixed retry delay.
type defaultRetryPolicy struct {
	maxRetries int
	retryDelay time.Duration
}

// GetMaxRetries returns the maximum number of retries.
func (p *defaultRetryPolicy) GetMaxRetries() int {
	return p.maxRetries
}

// ShouldRetry determines if an error is retryable.
// Execution failures and timeouts are retryable; validation failures never are.
// err: The error to evaluate.
// Returns: true if the error is retryable, false otherwise.
func (p *defaultRetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return exception.IsRetryable(err)
}

// GetBackoffInterval returns the backoff interval based on the specified attempt number.
// The current implementation always returns the configured delay (fixed interval).
// attempt: The current attempt number (not used in this implementation).
// Returns: The waiting time until the next retry.
func (p *defaultRetryPolicy) GetBackoffInterval(attempt int) time.Duration {
	return p.retryDelay
}

// Verify interfaces
var _ RetryPolicy = (*defaultRetryPolicy)(nil)
