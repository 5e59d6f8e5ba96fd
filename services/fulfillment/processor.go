package fulfillment

import (
	"context"
	"errors"
	"time"

	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/logger"
	"fulfillment-controlplane/services/job"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// processor is the lease, park, fail and complete plumbing shared by the
// reward and credential processors.
type processor[T any, PT interface {
	*T
	job.Record
}] struct {
	kind     string
	db       *gorm.DB
	store    *job.Store[T, PT]
	settings job.Settings
	now      func() time.Time
}

func (p *processor[T, PT]) logger(ctx context.Context, rec PT) *zap.Logger {
	l := rec.Job()
	return logger.FromContext(ctx).With(
		zap.String("job_kind", p.kind),
		zap.String("job_id", l.ID),
		zap.String("idempotency_key", l.IdempotencyKey),
	)
}

func (p *processor[T, PT]) acquire(ctx context.Context, id string) (PT, error) {
	rec, err := p.store.Acquire(ctx, id, p.settings.Owner, p.now().UTC(), p.settings.LeaseTTL)
	if err != nil {
		if job.IsSkippable(err) {
			job.ObserveOutcome(p.kind, job.OutcomeSkipped)
		}
		return nil, err
	}
	return rec, nil
}

func (p *processor[T, PT]) park(ctx context.Context, rec PT, reason string) error {
	if err := p.store.Park(ctx, rec, reason, p.now().UTC(), p.settings.ParkInterval); err != nil {
		return err
	}
	job.ObserveOutcome(p.kind, job.OutcomeParked)
	p.logger(ctx, rec).Info("job parked", zap.String("reason", reason))
	return nil
}

// fail records cause on the row. The error is consumed: the row now owns the
// retry schedule.
func (p *processor[T, PT]) fail(ctx context.Context, rec PT, cause error) error {
	if err := p.store.Fail(ctx, rec, cause, p.settings.Policy, p.now().UTC()); err != nil {
		return err
	}
	l := rec.Job()
	job.ObserveOutcome(p.kind, job.FailureOutcome(cause))
	p.logger(ctx, rec).Warn("job failed",
		zap.Bool("permanent", errutil.IsPermanent(cause)),
		zap.Int("retry_count", l.RetryCount),
		zap.Bool("retry_exempt", l.RetryExempt),
		zap.String("error_reason", l.ErrorReason),
	)
	return nil
}

// call runs a provider request under the provider timeout.
func (p *processor[T, PT]) call(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.settings.ProviderTimeout)
	defer cancel()

	started := time.Now()
	id, err := fn(callCtx)
	job.ObserveProviderCall(p.kind, time.Since(started).Seconds())
	if err == nil && id == "" {
		return "", errutil.Transient("provider returned an empty id", nil)
	}
	return id, err
}

// complete marks rec completed and runs then in the same transaction. When
// the transaction rolls back rec keeps its leased state, so the caller can
// still record a failure.
func (p *processor[T, PT]) complete(ctx context.Context, rec PT, externalID string, then func(tx *gorm.DB) error) error {
	before := *rec.Job()
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.store.WithTrx(tx).Complete(ctx, rec, externalID, p.now().UTC()); err != nil {
			return err
		}
		if then == nil {
			return nil
		}
		return then(tx)
	})
	if err != nil {
		*rec.Job() = before
		if errors.Is(err, job.ErrLeaseLost) {
			// the provider call is keyed, so the next attempt returns the same id
			p.logger(ctx, rec).Warn("lease lost after provider success", zap.String("external_id", externalID))
		}
		return err
	}

	job.ObserveOutcome(p.kind, job.OutcomeCompleted)
	p.logger(ctx, rec).Info("job completed", zap.String("external_id", externalID))
	return nil
}
