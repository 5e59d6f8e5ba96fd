package job

import "errors"

var (
	ErrNotFound     = errors.New("job not found")
	ErrMissingKey   = errors.New("idempotency key is required")
	ErrCompleted    = errors.New("job already completed")
	ErrLeaseHeld    = errors.New("job is leased by another worker")
	ErrLeaseLost    = errors.New("job lease lost")
	ErrNotDue       = errors.New("job is not due yet")
	ErrRetryExempt  = errors.New("job is exempt from automatic retry")
	ErrInvalidState = errors.New("job is not in a valid state for this operation")
)

// IsSkippable reports whether err only means another worker or a later scan
// owns the job, so the caller should drop the task silently.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrCompleted) ||
		errors.Is(err, ErrLeaseHeld) ||
		errors.Is(err, ErrLeaseLost) ||
		errors.Is(err, ErrNotDue) ||
		errors.Is(err, ErrRetryExempt)
}
