package bootstrap

import (
	"context"

	"fulfillment-controlplane/pkg/config"
	"fulfillment-controlplane/services/fulfillment"
	"fulfillment-controlplane/services/ledger"
	"fulfillment-controlplane/services/opportunity"
	"fulfillment-controlplane/services/provisioning"
	"fulfillment-controlplane/services/verification"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table owned by the control plane, in creation order.
func Models() []any {
	return []any{
		&opportunity.Opportunity{},
		&verification.Engagement{},
		&verification.Evidence{},
		&fulfillment.RewardJob{},
		&fulfillment.CredentialJob{},
		&provisioning.WalletRecord{},
		&provisioning.TenantRecord{},
		&ledger.LedgerEntry{},
		&ledger.Balance{},
	}
}

type Service struct {
	db     *gorm.DB
	config *config.Config
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		config: p.Config,
	}
}

func (s *Service) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		zap.L().Error("[bootstrap] failed to migrate schema", zap.Error(err))
		return err
	}
	zap.L().Info("[bootstrap] schema migrated", zap.String("app_env", s.config.AppEnv), zap.Int("tables", len(Models())))
	return nil
}
