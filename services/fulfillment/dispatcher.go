package fulfillment

import (
	"context"
	"errors"
	"time"

	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/featureflags"
	"fulfillment-controlplane/pkg/logger"
	"fulfillment-controlplane/pkg/task"
	"fulfillment-controlplane/services/job"
	"fulfillment-controlplane/services/opportunity"
	"fulfillment-controlplane/services/verification"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("fulfillment-controlplane/services/fulfillment")

type OpportunityReader interface {
	Get(ctx context.Context, tx *gorm.DB, id string) (*opportunity.Opportunity, error)
}

// Dispatcher creates the durable fulfillment jobs of a completed engagement.
// It never calls a provider and never changes a job's status.
type Dispatcher struct {
	db            *gorm.DB
	opportunities OpportunityReader
	rewards       *RewardStore
	credentials   *CredentialStore
	flags         featureflags.FeatureFlag
	enqueuer      task.Enqueuer
	settings      job.Settings
	now           func() time.Time
}

type DispatcherParams struct {
	fx.In
	DB            *gorm.DB
	Opportunities OpportunityReader
	Rewards       *RewardStore
	Credentials   *CredentialStore
	Flags         featureflags.FeatureFlag `optional:"true"`
	Enqueuer      task.Enqueuer            `optional:"true"`
	Settings      job.Settings
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		db:            p.DB,
		opportunities: p.Opportunities,
		rewards:       p.Rewards,
		credentials:   p.Credentials,
		flags:         p.Flags,
		enqueuer:      p.Enqueuer,
		settings:      p.Settings,
		now:           time.Now,
	}
}

// Dispatch find-or-creates the reward and credential jobs of e inside tx.
// Calling it again for the same engagement returns the existing jobs.
func (d *Dispatcher) Dispatch(ctx context.Context, tx *gorm.DB, e *verification.Engagement) error {
	ctx, span := tracer.Start(ctx, "fulfillment.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("engagement_id", e.ID))

	log := logger.FromContext(ctx).With(zap.String("engagement_id", e.ID), zap.String("user_id", e.UserID))

	opp, err := d.opportunities.Get(ctx, tx, e.OpportunityID)
	if err != nil {
		return err
	}
	now := d.now().UTC()

	if opp.HasReward() {
		rec, created, err := d.rewards.WithTrx(tx).FindOrCreate(ctx, &RewardJob{
			Lineage:       job.Lineage{IdempotencyKey: RewardKey(e.UserID, e.ID)},
			EngagementID:  e.ID,
			UserID:        e.UserID,
			OpportunityID: opp.ID,
			Amount:        *opp.RewardAmount,
		}, now)
		if err != nil {
			return err
		}
		log.Info("reward job dispatched", zap.String("job_id", rec.ID), zap.Bool("created", created), zap.String("amount", rec.Amount.String()))
	}

	if opp.CredentialIssuance && d.credentialsEnabled(ctx, e.UserID) {
		subject := opp.CredentialSubject
		if subject == "" {
			subject = opportunity.SubjectUser
		}
		org := opp.CredentialOrganizationID()
		rec, created, err := d.credentials.WithTrx(tx).FindOrCreate(ctx, &CredentialJob{
			Lineage:          job.Lineage{IdempotencyKey: CredentialKey(opp.CredentialSchema, e.UserID, org, e.ID)},
			EngagementID:     e.ID,
			UserID:           e.UserID,
			OrganizationID:   org,
			OpportunityID:    opp.ID,
			OpportunityTitle: opp.Title,
			SchemaName:       opp.CredentialSchema,
			SchemaVersion:    opp.CredentialSchemaVersion,
			SubjectType:      subject,
		}, now)
		if err != nil {
			return err
		}
		log.Info("credential job dispatched", zap.String("job_id", rec.ID), zap.Bool("created", created), zap.String("schema", rec.SchemaName))
	}

	return nil
}

func (d *Dispatcher) credentialsEnabled(ctx context.Context, userID string) bool {
	if d.flags == nil {
		return true
	}
	return d.flags.IsEnabled(ctx, featureflags.CredentialIssuance, userID, true)
}

// Kick enqueues the queued jobs of an engagement after its completion
// committed. The scanner picks up anything a failed kick leaves behind.
func (d *Dispatcher) Kick(ctx context.Context, engagementID string) {
	if d.enqueuer == nil {
		return
	}

	rewards, err := d.rewards.Where(ctx, "engagement_id = ? AND status = ?", engagementID, job.StatusQueued)
	if err != nil {
		zap.L().Warn("failed to load reward jobs for kick", zap.String("engagement_id", engagementID), zap.Error(err))
	}
	for _, rec := range rewards {
		enqueue(ctx, d.enqueuer, NewRewardTask(rec.ID, d.settings.LeaseTTL))
	}

	credentials, err := d.credentials.Where(ctx, "engagement_id = ? AND status = ?", engagementID, job.StatusQueued)
	if err != nil {
		zap.L().Warn("failed to load credential jobs for kick", zap.String("engagement_id", engagementID), zap.Error(err))
	}
	for _, rec := range credentials {
		enqueue(ctx, d.enqueuer, NewCredentialTask(rec.ID, d.settings.LeaseTTL))
	}
}

// Redispatch runs Dispatch again for a completed engagement. Existing jobs
// are left untouched.
func (d *Dispatcher) Redispatch(ctx context.Context, engagementID string) error {
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var e verification.Engagement
		err := tx.WithContext(ctx).
			Where("id = ? AND action = ?", engagementID, verification.ActionVerification).
			Take(&e).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("engagement not found", verification.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if e.StatusValue() != verification.StatusCompleted {
			return errutil.UnprocessableEntity("engagement is not completed", verification.ErrInvalidTransition)
		}
		return d.Dispatch(ctx, tx, &e)
	})
	if err != nil {
		return err
	}
	d.Kick(ctx, engagementID)
	return nil
}
