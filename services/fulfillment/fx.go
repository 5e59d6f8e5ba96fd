package fulfillment

import (
	"fulfillment-controlplane/services/job"
	"fulfillment-controlplane/services/opportunity"
	"fulfillment-controlplane/services/verification"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Stores provides the job tables and the shared worker settings.
var Stores = fx.Module("fulfillment.stores",
	fx.Provide(
		job.NewSettings,
		func(db *gorm.DB, node *snowflake.Node) *RewardStore {
			return job.NewStore[RewardJob](db, node)
		},
		func(db *gorm.DB, node *snowflake.Node) *CredentialStore {
			return job.NewStore[CredentialJob](db, node)
		},
	),
)

// Dispatch wires the dispatcher into the verification state machine.
var Dispatch = fx.Module("fulfillment.dispatch",
	fx.Provide(
		NewDispatcher,
		func(d *Dispatcher) verification.Dispatcher { return d },
		func(s *opportunity.Service) OpportunityReader { return s },
	),
)

// Gateway exposes the operator endpoints.
var Gateway = fx.Module("fulfillment.gateway",
	fx.Provide(NewAdmin, NewHandler),
	fx.Invoke(func(r *gin.Engine, h *Handler) {
		h.Register(r)
	}),
)

var Worker = fx.Module("fulfillment.worker",
	fx.Provide(
		func(s *verification.Service) EngagementStore { return s },
		NewRewardProcessor,
		NewCredentialProcessor,
		NewTaskHandler,
		NewScheduler,
	),
	fx.Invoke(
		func(mux *asynq.ServeMux, h *TaskHandler) {
			h.Register(mux)
		},
		StartScheduler,
	),
)
