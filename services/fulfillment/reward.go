package fulfillment

import (
	"context"
	"errors"
	"time"

	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/money"
	"fulfillment-controlplane/pkg/task"
	"fulfillment-controlplane/services/job"
	"fulfillment-controlplane/services/ledger"
	"fulfillment-controlplane/services/provisioning"
	"fulfillment-controlplane/services/verification"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type WalletCreditor interface {
	Credit(ctx context.Context, walletID string, amount money.Amount, idempotencyKey string) (string, error)
}

type EngagementStore interface {
	GetEngagement(ctx context.Context, tx *gorm.DB, id string) (*verification.Engagement, error)
	ListEvidence(ctx context.Context, tx *gorm.DB, e *verification.Engagement) ([]*verification.Evidence, error)
	RecordReward(ctx context.Context, tx *gorm.DB, engagementID string, amount money.Amount, now time.Time) error
}

type RewardProcessor struct {
	processor[RewardJob, *RewardJob]
	provisioning *provisioning.Service
	wallet       WalletCreditor
	engagements  EngagementStore
	ledger       *ledger.Service
	enqueuer     task.Enqueuer
}

type RewardParams struct {
	fx.In
	DB           *gorm.DB
	Store        *RewardStore
	Settings     job.Settings
	Provisioning *provisioning.Service
	Wallet       WalletCreditor
	Engagements  EngagementStore
	Ledger       *ledger.Service
	Enqueuer     task.Enqueuer    `optional:"true"`
	Now          func() time.Time `optional:"true"`
}

func NewRewardProcessor(p RewardParams) *RewardProcessor {
	now := p.Now
	if now == nil {
		now = time.Now
	}

	rp := &RewardProcessor{
		processor: processor[RewardJob, *RewardJob]{
			kind:     KindReward,
			db:       p.DB,
			store:    p.Store,
			settings: p.Settings,
			now:      now,
		},
		provisioning: p.Provisioning,
		wallet:       p.Wallet,
		engagements:  p.Engagements,
		ledger:       p.Ledger,
		enqueuer:     p.Enqueuer,
	}
	p.Provisioning.OnWalletCompleted(rp.wake)
	return rp
}

// wake re-queues reward jobs parked on the wallet that just completed.
func (rp *RewardProcessor) wake(ctx context.Context, wallet *provisioning.WalletRecord) {
	requeued, err := rp.store.RequeueParked(ctx, rp.now().UTC(), "user_id = ?", wallet.OwnerID)
	if err != nil {
		zap.L().Warn("failed to requeue parked reward jobs", zap.String("user_id", wallet.OwnerID), zap.Error(err))
		return
	}
	for _, rec := range requeued {
		enqueue(ctx, rp.enqueuer, NewRewardTask(rec.ID, rp.settings.LeaseTTL))
	}
}

// Process runs one attempt of a reward job. Provider failures are recorded
// on the job and do not produce an error; an error means the attempt could
// not run or its outcome could not be stored.
func (rp *RewardProcessor) Process(ctx context.Context, jobID string) error {
	ctx, span := tracer.Start(ctx, "fulfillment.RewardProcess")
	defer span.End()
	span.SetAttributes(attribute.String("job_id", jobID))

	rec, err := rp.acquire(ctx, jobID)
	if err != nil {
		return err
	}

	wallet, err := rp.provisioning.EnsureWallet(ctx, rec.UserID)
	if err != nil {
		return rp.fail(ctx, rec, errutil.Transient("wallet provisioning", err))
	}
	if !wallet.IsCompleted() {
		return rp.park(ctx, rec, parkReason("wallet", &wallet.Lineage))
	}

	txID, err := rp.call(ctx, func(ctx context.Context) (string, error) {
		return rp.wallet.Credit(ctx, wallet.ExternalID, rec.Amount, rec.IdempotencyKey)
	})
	if err != nil {
		return rp.fail(ctx, rec, err)
	}

	err = rp.complete(ctx, rec, txID, func(tx *gorm.DB) error {
		now := rp.now().UTC()
		if err := rp.engagements.RecordReward(ctx, tx, rec.EngagementID, rec.Amount, now); err != nil {
			return err
		}
		_, err := rp.ledger.RecordCredit(ctx, tx, ledger.CreditParams{
			AccountID:     rec.UserID,
			Amount:        rec.Amount,
			TransactionID: txID,
			ReferenceID:   rec.IdempotencyKey,
			Description:   "opportunity reward",
			Metadata: map[string]any{
				"engagement_id":  rec.EngagementID,
				"opportunity_id": rec.OpportunityID,
				"wallet_id":      wallet.ExternalID,
			},
			Now: now,
		})
		return err
	})
	if err != nil && !errors.Is(err, job.ErrLeaseLost) {
		return rp.fail(ctx, rec, errutil.Transient("record reward", err))
	}
	return err
}

func parkReason(prerequisite string, l *job.Lineage) string {
	reason := "awaiting " + prerequisite + " provisioning (" + l.Status.String() + ")"
	if l.ErrorReason != "" {
		reason += ": " + l.ErrorReason
	}
	return reason
}
