package provisioning

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("provisioning.service",
	fx.Provide(NewService),
)

var Worker = fx.Module("provisioning.worker",
	fx.Provide(NewTaskHandler),
	fx.Invoke(func(mux *asynq.ServeMux, h *TaskHandler) {
		h.Register(mux)
	}),
)
