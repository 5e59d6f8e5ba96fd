package fulfillment

import (
	"context"
	"errors"
	"time"

	"fulfillment-controlplane/pkg/client"
	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/task"
	"fulfillment-controlplane/services/job"
	"fulfillment-controlplane/services/opportunity"
	"fulfillment-controlplane/services/provisioning"
	"fulfillment-controlplane/services/verification"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CredentialIssuer interface {
	IssueCredential(ctx context.Context, tenantID string, req client.CredentialRequest, idempotencyKey string) (string, error)
}

type CredentialProcessor struct {
	processor[CredentialJob, *CredentialJob]
	provisioning *provisioning.Service
	issuer       CredentialIssuer
	engagements  EngagementStore
	enqueuer     task.Enqueuer
}

type CredentialParams struct {
	fx.In
	DB           *gorm.DB
	Store        *CredentialStore
	Settings     job.Settings
	Provisioning *provisioning.Service
	Issuer       CredentialIssuer
	Engagements  EngagementStore
	Enqueuer     task.Enqueuer    `optional:"true"`
	Now          func() time.Time `optional:"true"`
}

func NewCredentialProcessor(p CredentialParams) *CredentialProcessor {
	now := p.Now
	if now == nil {
		now = time.Now
	}

	cp := &CredentialProcessor{
		processor: processor[CredentialJob, *CredentialJob]{
			kind:     KindCredential,
			db:       p.DB,
			store:    p.Store,
			settings: p.Settings,
			now:      now,
		},
		provisioning: p.Provisioning,
		issuer:       p.Issuer,
		engagements:  p.Engagements,
		enqueuer:     p.Enqueuer,
	}
	p.Provisioning.OnTenantCompleted(cp.wake)
	return cp
}

func (cp *CredentialProcessor) wake(ctx context.Context, tenant *provisioning.TenantRecord) {
	query, args := "subject_type = ? AND user_id = ?", []any{opportunity.SubjectUser, tenant.EntityID}
	if tenant.EntityType == opportunity.SubjectOrganization {
		query, args = "subject_type = ? AND organization_id = ?", []any{opportunity.SubjectOrganization, tenant.EntityID}
	}

	requeued, err := cp.store.RequeueParked(ctx, cp.now().UTC(), query, args...)
	if err != nil {
		zap.L().Warn("failed to requeue parked credential jobs", zap.String("entity_id", tenant.EntityID), zap.Error(err))
		return
	}
	for _, rec := range requeued {
		enqueue(ctx, cp.enqueuer, NewCredentialTask(rec.ID, cp.settings.LeaseTTL))
	}
}

// Process runs one attempt of a credential job, with the same error contract
// as RewardProcessor.Process.
func (cp *CredentialProcessor) Process(ctx context.Context, jobID string) error {
	ctx, span := tracer.Start(ctx, "fulfillment.CredentialProcess")
	defer span.End()
	span.SetAttributes(attribute.String("job_id", jobID))

	rec, err := cp.acquire(ctx, jobID)
	if err != nil {
		return err
	}

	entityType, entityID := rec.Subject()
	if entityID == "" {
		return cp.fail(ctx, rec, errutil.Permanent("credential subject has no id", nil))
	}
	tenant, err := cp.provisioning.EnsureTenant(ctx, entityType, entityID)
	if err != nil {
		return cp.fail(ctx, rec, errutil.Transient("tenant provisioning", err))
	}
	if !tenant.IsCompleted() {
		return cp.park(ctx, rec, parkReason("tenant", &tenant.Lineage))
	}

	claims, err := cp.claims(ctx, rec)
	if err != nil {
		return cp.fail(ctx, rec, err)
	}

	credentialID, err := cp.call(ctx, func(ctx context.Context) (string, error) {
		return cp.issuer.IssueCredential(ctx, tenant.ExternalID, client.CredentialRequest{
			SchemaName:    rec.SchemaName,
			SchemaVersion: rec.SchemaVersion,
			Claims:        claims,
		}, rec.IdempotencyKey)
	})
	if err != nil {
		return cp.fail(ctx, rec, err)
	}

	err = cp.complete(ctx, rec, credentialID, nil)
	if err != nil && !errors.Is(err, job.ErrLeaseLost) {
		return cp.fail(ctx, rec, errutil.Transient("record credential", err))
	}
	return err
}

// claims describes the completion the credential attests.
func (cp *CredentialProcessor) claims(ctx context.Context, rec *CredentialJob) (map[string]any, error) {
	e, err := cp.engagements.GetEngagement(ctx, nil, rec.EngagementID)
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) && be.Code == errutil.StatusNotFound {
			return nil, errutil.Permanent("engagement not found", err)
		}
		return nil, errutil.Transient("load engagement", err)
	}
	if e.StatusValue() != verification.StatusCompleted {
		return nil, errutil.Permanent("engagement is not completed", nil)
	}

	evidence, err := cp.engagements.ListEvidence(ctx, nil, e)
	if err != nil {
		return nil, errutil.Transient("load evidence", err)
	}
	types := make([]string, 0, len(evidence))
	for _, ev := range evidence {
		types = append(types, string(ev.Type))
	}

	claims := map[string]any{
		"user_id":        rec.UserID,
		"opportunity_id": rec.OpportunityID,
		"engagement_id":  rec.EngagementID,
		"evidence_types": types,
	}
	if rec.OpportunityTitle != "" {
		claims["opportunity_title"] = rec.OpportunityTitle
	}
	if rec.OrganizationID != "" {
		claims["organization_id"] = rec.OrganizationID
	}
	if e.CompletedAt != nil {
		claims["completed_at"] = e.CompletedAt.UTC().Format(time.RFC3339)
	}
	return claims, nil
}
