package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrTerminal = errors.New("job already terminal")

	// ErrValidation covers missing or empty caller input. No job record is
	// created and no network call is made.
	ErrValidation = errors.New("invalid request")

	// ErrConfiguration indicates missing provider credentials. Fatal and
	// surfaced before any network call.
	ErrConfiguration = errors.New("provider not configured")

	// ErrProvider indicates the provider returned an explicit failure or a
	// malformed payload. Not retryable.
	ErrProvider = errors.New("provider failure")

	// ErrTimeout indicates a single provider call exceeded its timeout.
	// Retryable within the attempt budget.
	ErrTimeout = errors.New("provider call timed out")

	// ErrRateLimited indicates the provider signaled overload. Retryable
	// within the attempt budget.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrDeadlineExceeded indicates the overall job wall-clock budget ran
	// out across submit, poll and retry activity.
	ErrDeadlineExceeded = errors.New("generation deadline exceeded")

	// ErrAlreadyInProgress rejects a duplicate submission while a prior job
	// for the same caller is still non-terminal.
	ErrAlreadyInProgress = errors.New("generation already in progress")

	// ErrPersistence marks a job store write failure. Logged, never allowed
	// to mask the underlying job outcome.
	ErrPersistence = errors.New("job store write failed")
)

// Retryable reports whether the error is a transient provider condition
// worth another submission attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited)
}
