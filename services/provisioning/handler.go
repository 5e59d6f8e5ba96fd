package provisioning

import (
	"context"
	"errors"
	"fmt"

	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type TaskHandler struct {
	service *Service
}

func NewTaskHandler(service *Service) *TaskHandler {
	return &TaskHandler{service: service}
}

func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.ProvisioningWalletProcess, h.HandleWallet)
	mux.HandleFunc(taskname.ProvisioningTenantProcess, h.HandleTenant)
}

func (h *TaskHandler) HandleWallet(ctx context.Context, t *asynq.Task) error {
	p, err := decode(t)
	if err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err = h.service.ProcessWallet(ctx, p.RecordID)
	return h.result(t, p, err)
}

func (h *TaskHandler) HandleTenant(ctx context.Context, t *asynq.Task) error {
	p, err := decode(t)
	if err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err = h.service.ProcessTenant(ctx, p.RecordID)
	return h.result(t, p, err)
}

func (h *TaskHandler) result(t *asynq.Task, p Payload, err error) error {
	if err == nil {
		return nil
	}
	var be errutil.BaseError
	if errors.As(err, &be) && be.Code == errutil.StatusNotFound {
		zap.L().Warn("provisioning record vanished", zap.String("task_type", t.Type()), zap.String("record_id", p.RecordID))
		return nil
	}
	return err
}
