package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"fulfillment-controlplane/pkg/taskname"
	"fulfillment-controlplane/services/job"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type TaskHandler struct {
	rewards     *RewardProcessor
	credentials *CredentialProcessor
}

func NewTaskHandler(rewards *RewardProcessor, credentials *CredentialProcessor) *TaskHandler {
	return &TaskHandler{rewards: rewards, credentials: credentials}
}

func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.FulfillmentRewardProcess, h.HandleReward)
	mux.HandleFunc(taskname.FulfillmentCredentialProcess, h.HandleCredential)
}

func (h *TaskHandler) HandleReward(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	return result(t, p, h.rewards.Process(ctx, p.JobID))
}

func (h *TaskHandler) HandleCredential(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	return result(t, p, h.credentials.Process(ctx, p.JobID))
}

// result drops errors that only mean the job is owned elsewhere or not due,
// leaving real failures to asynq's own retry.
func result(t *asynq.Task, p Payload, err error) error {
	switch {
	case err == nil:
		return nil
	case job.IsSkippable(err):
		zap.L().Debug("task skipped", zap.String("task_type", t.Type()), zap.String("job_id", p.JobID), zap.Error(err))
		return nil
	case errors.Is(err, job.ErrNotFound):
		zap.L().Warn("job not found", zap.String("task_type", t.Type()), zap.String("job_id", p.JobID))
		return nil
	default:
		return err
	}
}
