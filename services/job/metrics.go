package job

import (
	"fulfillment-controlplane/pkg/errutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels recorded by processors.
const (
	OutcomeCompleted = "completed"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
	OutcomeParked    = "parked"
	OutcomeSkipped   = "skipped"
)

var (
	outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_job_outcomes_total",
		Help: "Processing outcomes per job kind.",
	}, []string{"kind", "outcome"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fulfillment_provider_call_seconds",
		Help:    "Latency of external provider calls per job kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	reclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_leases_reclaimed_total",
		Help: "Expired leases turned into transient failures.",
	}, []string{"kind"})
)

func ObserveOutcome(kind, outcome string) {
	outcomes.WithLabelValues(kind, outcome).Inc()
}

func ObserveProviderCall(kind string, seconds float64) {
	providerLatency.WithLabelValues(kind).Observe(seconds)
}

func ObserveReclaimed(kind string, n int) {
	if n > 0 {
		reclaimed.WithLabelValues(kind).Add(float64(n))
	}
}

// FailureOutcome maps a provider error to its outcome label.
func FailureOutcome(err error) string {
	if errutil.IsPermanent(err) {
		return OutcomePermanent
	}
	return OutcomeTransient
}
