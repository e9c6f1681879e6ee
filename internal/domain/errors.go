package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job is not in the queue
	ErrJobNotFound = errors.New("job not found")

	// ErrJobRunning is returned when an operation is not allowed on a running job
	ErrJobRunning = errors.New("job is running")

	// ErrNotRetryable is returned when retrying a job that is still queued or running
	ErrNotRetryable = errors.New("job is not in a retryable state")

	// ErrNotCancellable is returned when cancelling a job that already finished
	ErrNotCancellable = errors.New("only queued jobs can be cancelled")

	// ErrInputUnavailable is returned when the input file of a job can no longer be read
	ErrInputUnavailable = errors.New("job input file is unavailable")

	// ErrUnknownApp is returned when an app key is not in the catalog
	ErrUnknownApp = errors.New("unknown app")

	// ErrUnauthorized is returned when no authenticated user is present
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when a user touches a record owned by someone else
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when a persisted record does not exist
	ErrNotFound = errors.New("not found")
)
