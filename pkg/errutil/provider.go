package errutil

import (
	"context"
	"errors"
	"fmt"
)

const maxReasonLength = 1024

// ProviderError is returned by adapters of external providers (wallet, trust
// registry). Permanent errors are never retried automatically.
type ProviderError struct {
	Permanent bool
	Reason    string
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s provider error: %s: %v", kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s provider error: %s", kind, e.Reason)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func Transient(reason string, err error) error {
	return &ProviderError{Reason: reason, Err: err}
}

func Permanent(reason string, err error) error {
	return &ProviderError{Permanent: true, Reason: reason, Err: err}
}

// IsPermanent reports whether err carries a permanent provider classification.
// Anything unclassified, including timeouts, counts as transient.
func IsPermanent(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Permanent
	}
	return false
}

// ReasonOf returns the human readable reason stored on jobs and records.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}

	var reason string
	var pe *ProviderError
	switch {
	case errors.As(err, &pe):
		reason = pe.Reason
		if pe.Err != nil {
			reason = fmt.Sprintf("%s: %v", pe.Reason, pe.Err)
		}
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout: " + err.Error()
	default:
		reason = err.Error()
	}

	if len(reason) > maxReasonLength {
		reason = reason[:maxReasonLength]
	}
	return reason
}
