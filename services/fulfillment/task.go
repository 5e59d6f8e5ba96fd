package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"fulfillment-controlplane/pkg/task"
	"fulfillment-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Payload struct {
	JobID string `json:"job_id"`
}

// newTask dedupes on type and payload for one lease TTL. The uniqueness lock
// expires on its own, so an archived task never shadows the row for longer
// than a lease.
func newTask(typename, jobID string, timeout time.Duration) *asynq.Task {
	payload, _ := json.Marshal(Payload{JobID: jobID})
	return asynq.NewTask(typename, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(timeout),
		asynq.Queue(task.QueueFulfillment),
		asynq.Unique(timeout),
	)
}

func NewRewardTask(jobID string, timeout time.Duration) *asynq.Task {
	return newTask(taskname.FulfillmentRewardProcess, jobID, timeout)
}

func NewCredentialTask(jobID string, timeout time.Duration) *asynq.Task {
	return newTask(taskname.FulfillmentCredentialProcess, jobID, timeout)
}

// enqueue hands a task to the worker pool. A duplicate inside the uniqueness
// window already covers the row.
func enqueue(ctx context.Context, enqueuer task.Enqueuer, t *asynq.Task) {
	if enqueuer == nil {
		return
	}
	_, err := enqueuer.Enqueue(ctx, t)
	if err == nil || errors.Is(err, asynq.ErrDuplicateTask) {
		return
	}
	zap.L().Warn("failed to enqueue task", zap.String("task_type", t.Type()), zap.Error(err))
}
