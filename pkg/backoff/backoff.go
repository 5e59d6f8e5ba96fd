package backoff

import (
	"time"

	"fulfillment-controlplane/pkg/config"
)

// Policy is the retry schedule shared by fulfillment jobs and provisioning
// records. Delay grows as Base * 2^(retryCount-1) and never exceeds Max.
type Policy struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

func FromConfig(cfg *config.Config) Policy {
	return Policy{
		Base:       cfg.Fulfillment.BackoffBase,
		Max:        cfg.Fulfillment.BackoffMax,
		MaxRetries: cfg.Fulfillment.MaxRetries,
	}
}

// Delay returns how long to wait before the next attempt once a job has
// failed retryCount times.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 || p.Base <= 0 {
		return 0
	}

	delay := p.Base
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if p.Max > 0 && delay >= p.Max {
			return p.Max
		}
		// overflow guard when Max is unset
		if delay <= 0 {
			return time.Duration(1<<63 - 1)
		}
	}

	if p.Max > 0 && delay > p.Max {
		return p.Max
	}
	return delay
}

// CanRetry reports whether a job that has failed retryCount times is still
// eligible for automatic retry.
func (p Policy) CanRetry(retryCount int) bool {
	return retryCount <= p.MaxRetries
}
