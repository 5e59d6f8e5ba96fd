package job

import (
	"os"
	"time"

	"fulfillment-controlplane/pkg/backoff"
	"fulfillment-controlplane/pkg/config"

	"github.com/google/uuid"
)

// Settings are the worker knobs shared by every processor.
type Settings struct {
	Owner           string
	Policy          backoff.Policy
	LeaseTTL        time.Duration
	ProviderTimeout time.Duration
	ParkInterval    time.Duration
	BatchSize       int
}

func NewSettings(cfg *config.Config) Settings {
	f := cfg.Fulfillment
	return Settings{
		Owner:           NewOwner(f.WorkerID),
		Policy:          backoff.FromConfig(cfg),
		LeaseTTL:        f.LeaseTTL,
		ProviderTimeout: f.ProviderTimeout,
		ParkInterval:    f.ParkInterval,
		BatchSize:       f.ScanBatchSize,
	}
}

// NewOwner returns the lease owner recorded on rows this process acquires.
func NewOwner(workerID string) string {
	if workerID != "" {
		return workerID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}
