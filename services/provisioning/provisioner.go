package provisioning

import (
	"context"
	"errors"
	"sync"
	"time"

	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/logger"
	"fulfillment-controlplane/services/job"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// provisioner runs the one-time provider call for a record type. Callers in
// this process share a single flight per idempotency key; callers in other
// processes are excluded by the record lease.
type provisioner[T any, PT interface {
	*T
	job.Record
}] struct {
	kind     string
	store    *job.Store[T, PT]
	settings job.Settings
	now      func() time.Time
	create   func(ctx context.Context, rec PT) (string, error)

	group singleflight.Group

	mu    sync.RWMutex
	hooks []func(ctx context.Context, rec PT)
}

func (p *provisioner[T, PT]) onCompleted(fn func(ctx context.Context, rec PT)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, fn)
}

// ensure returns the record for rec's key, provisioning it first when it is
// not completed yet. A record that could not be completed is returned with a
// nil error; callers check its status.
func (p *provisioner[T, PT]) ensure(ctx context.Context, rec PT) (PT, error) {
	key := rec.Job().IdempotencyKey
	v, err, _ := p.group.Do(key, func() (any, error) {
		existing, _, err := p.store.FindOrCreate(ctx, rec, p.now().UTC())
		if err != nil {
			return nil, err
		}
		if existing.Job().IsCompleted() {
			return existing, nil
		}
		return p.process(ctx, existing.Job().ID)
	})
	if err != nil {
		return nil, err
	}
	return v.(PT), nil
}

// process leases the record and calls the provider once. Provider failures
// are recorded on the row, not returned.
func (p *provisioner[T, PT]) process(ctx context.Context, id string) (PT, error) {
	log := logger.FromContext(ctx).With(zap.String("record_id", id), zap.String("job_kind", p.kind))

	rec, err := p.store.Acquire(ctx, id, p.settings.Owner, p.now().UTC(), p.settings.LeaseTTL)
	if err != nil {
		if job.IsSkippable(err) {
			job.ObserveOutcome(p.kind, job.OutcomeSkipped)
			return p.store.Get(ctx, id)
		}
		return nil, err
	}
	l := rec.Job()
	log = log.With(zap.String("idempotency_key", l.IdempotencyKey), zap.Int("retry_count", l.RetryCount))

	callCtx, cancel := context.WithTimeout(ctx, p.settings.ProviderTimeout)
	started := time.Now()
	externalID, callErr := p.create(callCtx, rec)
	cancel()
	job.ObserveProviderCall(p.kind, time.Since(started).Seconds())

	if callErr != nil {
		if err := p.store.Fail(ctx, rec, callErr, p.settings.Policy, p.now().UTC()); err != nil {
			return nil, err
		}
		job.ObserveOutcome(p.kind, job.FailureOutcome(callErr))
		log.Warn("provisioning failed",
			zap.Bool("permanent", errutil.IsPermanent(callErr)),
			zap.Int("retry_count", l.RetryCount),
			zap.Bool("retry_exempt", l.RetryExempt),
			zap.String("error_reason", l.ErrorReason),
		)
		return rec, nil
	}

	if err := p.store.Complete(ctx, rec, externalID, p.now().UTC()); err != nil {
		if errors.Is(err, job.ErrLeaseLost) {
			log.Warn("provisioning lease lost after provider success", zap.String("external_id", externalID))
		}
		return nil, err
	}
	job.ObserveOutcome(p.kind, job.OutcomeCompleted)
	log.Info("provisioning completed", zap.String("external_id", externalID))

	p.mu.RLock()
	hooks := append([]func(context.Context, PT){}, p.hooks...)
	p.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, rec)
	}
	return rec, nil
}
