package provisioning

import (
	"context"
	"errors"
	"time"

	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/services/job"
	"fulfillment-controlplane/services/opportunity"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const (
	KindWallet = "wallet"
	KindTenant = "tenant"
)

type WalletProvider interface {
	CreateWallet(ctx context.Context, ownerID, idempotencyKey string) (string, error)
}

type TenantProvider interface {
	CreateTenant(ctx context.Context, entityType, entityID, idempotencyKey string) (string, error)
}

type (
	WalletStore = job.Store[WalletRecord, *WalletRecord]
	TenantStore = job.Store[TenantRecord, *TenantRecord]
)

type Service struct {
	wallets *provisioner[WalletRecord, *WalletRecord]
	tenants *provisioner[TenantRecord, *TenantRecord]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Settings job.Settings
	Wallet   WalletProvider
	Tenant   TenantProvider
	Now      func() time.Time `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	now := p.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		wallets: &provisioner[WalletRecord, *WalletRecord]{
			kind:     KindWallet,
			store:    job.NewStore[WalletRecord](p.DB, p.Node),
			settings: p.Settings,
			now:      now,
			create: func(ctx context.Context, rec *WalletRecord) (string, error) {
				return p.Wallet.CreateWallet(ctx, rec.OwnerID, rec.IdempotencyKey)
			},
		},
		tenants: &provisioner[TenantRecord, *TenantRecord]{
			kind:     KindTenant,
			store:    job.NewStore[TenantRecord](p.DB, p.Node),
			settings: p.Settings,
			now:      now,
			create: func(ctx context.Context, rec *TenantRecord) (string, error) {
				return p.Tenant.CreateTenant(ctx, string(rec.EntityType), rec.EntityID, rec.IdempotencyKey)
			},
		},
	}
}

// EnsureWallet returns the wallet record of ownerID, creating the wallet at
// the provider when no completed record exists.
func (s *Service) EnsureWallet(ctx context.Context, ownerID string) (*WalletRecord, error) {
	if ownerID == "" {
		return nil, errutil.BadRequest("owner_id is required", nil)
	}
	return s.wallets.ensure(ctx, &WalletRecord{
		Lineage: job.Lineage{IdempotencyKey: WalletKey(ownerID), Status: job.StatusPending},
		OwnerID: ownerID,
	})
}

// EnsureTenant returns the tenant record of the entity, creating the tenant
// at the trust registry when no completed record exists.
func (s *Service) EnsureTenant(ctx context.Context, entityType opportunity.SubjectType, entityID string) (*TenantRecord, error) {
	if entityID == "" {
		return nil, errutil.BadRequest("entity_id is required", nil)
	}
	if entityType != opportunity.SubjectUser && entityType != opportunity.SubjectOrganization {
		return nil, errutil.BadRequest("unknown entity type", nil)
	}
	return s.tenants.ensure(ctx, &TenantRecord{
		Lineage:    job.Lineage{IdempotencyKey: TenantKey(entityType, entityID), Status: job.StatusPending},
		EntityType: entityType,
		EntityID:   entityID,
	})
}

// ProcessWallet retries a stored wallet record. Used by the worker for
// records picked up by the scanner or re-driven by an operator.
func (s *Service) ProcessWallet(ctx context.Context, recordID string) (*WalletRecord, error) {
	return process(ctx, s.wallets, recordID)
}

func (s *Service) ProcessTenant(ctx context.Context, recordID string) (*TenantRecord, error) {
	return process(ctx, s.tenants, recordID)
}

func process[T any, PT interface {
	*T
	job.Record
}](ctx context.Context, p *provisioner[T, PT], id string) (PT, error) {
	v, err, _ := p.group.Do("id:"+id, func() (any, error) {
		return p.process(ctx, id)
	})
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return nil, errutil.NotFound("provisioning record not found", err)
		}
		return nil, err
	}
	return v.(PT), nil
}

// OnWalletCompleted registers fn to run after a wallet record completes.
func (s *Service) OnWalletCompleted(fn func(ctx context.Context, rec *WalletRecord)) {
	s.wallets.onCompleted(fn)
}

func (s *Service) OnTenantCompleted(fn func(ctx context.Context, rec *TenantRecord)) {
	s.tenants.onCompleted(fn)
}

func (s *Service) Wallets() *WalletStore {
	return s.wallets.store
}

func (s *Service) Tenants() *TenantStore {
	return s.tenants.store
}
