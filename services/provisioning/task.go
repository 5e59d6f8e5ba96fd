package provisioning

import (
	"encoding/json"
	"time"

	"fulfillment-controlplane/pkg/task"
	"fulfillment-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
)

type Payload struct {
	RecordID string `json:"record_id"`
}

func newTask(typename, recordID string, timeout time.Duration) *asynq.Task {
	payload, _ := json.Marshal(Payload{RecordID: recordID})
	return asynq.NewTask(typename, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(timeout),
		asynq.Queue(task.QueueProvisioning),
		asynq.Unique(timeout),
	)
}

func NewWalletTask(recordID string, timeout time.Duration) *asynq.Task {
	return newTask(taskname.ProvisioningWalletProcess, recordID, timeout)
}

func NewTenantTask(recordID string, timeout time.Duration) *asynq.Task {
	return newTask(taskname.ProvisioningTenantProcess, recordID, timeout)
}

func decode(t *asynq.Task) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, err
	}
	return p, nil
}
