package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that is not pending
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in pending status")

	// ErrInvalidPayload is returned when a job payload does not match its type
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrMaxRetriesExceeded is returned when a job has used all of its attempts
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrInvalidTransition is returned when a status write does not match the current job state
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrNoHandler is returned when no handler is registered for a job type
	ErrNoHandler = errors.New("no handler registered for job type")

	// ErrRateLimited is returned when a marketplace call budget is exhausted
	ErrRateLimited = errors.New("rate limit exceeded")

	ErrTaskNotFound = errors.New("scheduled task not found")

	// ErrTaskLocked is returned when another tick already runs the task
	ErrTaskLocked = errors.New("scheduled task is locked by another run")

	ErrUnknownMarketplace = errors.New("unknown marketplace")

	ErrRuleNotFound = errors.New("alert rule not found")
)

// RetryableError wraps transient errors. Jobs failing with one are retried by the sweep.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}
