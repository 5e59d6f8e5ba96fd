package verification

import (
	"fulfillment-controlplane/pkg/celengine"
	"fulfillment-controlplane/pkg/config"
	"fulfillment-controlplane/services/opportunity"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("verification.service",
	fx.Provide(
		NewService,
		provideEvidenceRule,
		fx.Annotate(
			func(s *opportunity.Service) *opportunity.Service { return s },
			fx.As(new(OpportunityReader)),
		),
	),
)

var Gateway = fx.Module("verification.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *gin.Engine, h *Handler) {
		h.Register(r)
	}),
)

func provideEvidenceRule(cfg *config.Config) (*celengine.EvidenceRule, error) {
	rule, err := celengine.NewEvidenceRule(cfg.Verification.EvidenceRule)
	if err != nil {
		return nil, err
	}
	zap.L().Info("evidence rule loaded", zap.String("rule", rule.String()))
	return rule, nil
}
