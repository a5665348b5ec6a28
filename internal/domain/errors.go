package domain

import "errors"

var (
	// ErrJobNotFound is returned when a training job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrTaskNotFound is returned when an inference task cannot be found in the database
	ErrTaskNotFound = errors.New("task not found")

	// ErrCorrelationNotFound is returned when no correlation record exists for a token
	ErrCorrelationNotFound = errors.New("correlation record not found")

	// ErrPredictionNotFound is returned when a task has no prediction yet
	ErrPredictionNotFound = errors.New("prediction not found")

	// ErrFailureNotFound is returned when a job has no recorded failure
	ErrFailureNotFound = errors.New("job failure not found")

	// ErrModelNotFound is returned when the model catalog has no such model
	ErrModelNotFound = errors.New("model not found")

	// ErrFeaturesNotFound is returned when a user has no feature row
	ErrFeaturesNotFound = errors.New("user features not found")

	// ErrInvalidRequest is returned when a submission is rejected before any write
	ErrInvalidRequest = errors.New("invalid job request")

	// ErrInvalidPayload is returned when a queue message body is malformed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrUnknownModelType is returned for training model types with no strategy
	ErrUnknownModelType = errors.New("unknown model type")

	// ErrInvalidTransition is returned when a training job is not in the expected status
	ErrInvalidTransition = errors.New("invalid training status transition")

	// ErrTransport marks queue connectivity and publish failures
	ErrTransport = errors.New("transport error")

	// ErrPersistence marks store write failures
	ErrPersistence = errors.New("persistence error")
)

// RetryableError wraps transient errors that should trigger a redelivery
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
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
