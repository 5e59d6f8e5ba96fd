package fulfillment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"fulfillment-controlplane/pkg/task"
	"fulfillment-controlplane/pkg/taskname"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func pendingRewardTasks(t *testing.T, inspector *asynq.Inspector, jobID string) int {
	t.Helper()
	tasks, err := inspector.ListPendingTasks(task.QueueFulfillment)
	require.NoError(t, err)

	n := 0
	for _, info := range tasks {
		if info.Type != taskname.FulfillmentRewardProcess {
			continue
		}
		var p Payload
		require.NoError(t, json.Unmarshal(info.Payload, &p))
		if p.JobID == jobID {
			n++
		}
	}
	return n
}

func TestArchivedTaskDoesNotStrandJob(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	opt := asynq.RedisClientOpt{Addr: mr.Addr()}

	client := asynq.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })
	inspector := asynq.NewInspector(opt)
	t.Cleanup(func() { _ = inspector.Close() })

	h := newHarness(t)
	enqueuer := task.NewEnqueuer(client)
	h.scheduler.enqueuer = enqueuer

	h.opportunity(t, "opp-1", nil)
	e := h.approve(t, "user-1", "opp-1")
	reward := h.rewardJob(t, e.ID)

	info, err := enqueuer.Enqueue(ctx, NewRewardTask(reward.ID, h.settings.LeaseTTL))
	require.NoError(t, err)

	// a second enqueue inside the window is a duplicate
	_, err = enqueuer.Enqueue(ctx, NewRewardTask(reward.ID, h.settings.LeaseTTL))
	require.ErrorIs(t, err, asynq.ErrDuplicateTask)

	// asynq gave up on the task after repeated infrastructure errors
	require.NoError(t, inspector.ArchiveTask(task.QueueFulfillment, info.ID))
	require.Equal(t, 0, pendingRewardTasks(t, inspector, reward.ID))

	mr.FastForward(h.settings.LeaseTTL + time.Second)

	found, err := h.scheduler.scan(ctx)
	require.NoError(t, err)
	require.Contains(t, found[KindReward], reward.ID)
	require.Equal(t, 1, pendingRewardTasks(t, inspector, reward.ID))
}
