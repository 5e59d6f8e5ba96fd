package fulfillment

import (
	"context"
	"errors"
	"strings"
	"time"

	"fulfillment-controlplane/pkg/db/pagination"
	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/task"
	"fulfillment-controlplane/services/job"
	"fulfillment-controlplane/services/provisioning"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// kindOps erases the record type so operators address every table by kind.
type kindOps struct {
	search    func(ctx context.Context, f job.Filter) (any, *pagination.PageInfo, error)
	get       func(ctx context.Context, id string) (any, error)
	forceFail func(ctx context.Context, id, reason string, now time.Time) (any, error)
	redrive   func(ctx context.Context, id string, now time.Time) (any, error)
	task      func(id string) *asynq.Task
}

func opsFor[T any, PT interface {
	*T
	job.Record
}](store *job.Store[T, PT], settings job.Settings, newTask func(string, time.Duration) *asynq.Task) kindOps {
	return kindOps{
		search: func(ctx context.Context, f job.Filter) (any, *pagination.PageInfo, error) {
			return store.Search(ctx, f)
		},
		get: func(ctx context.Context, id string) (any, error) {
			return store.Get(ctx, id)
		},
		forceFail: func(ctx context.Context, id, reason string, now time.Time) (any, error) {
			return store.ForceFail(ctx, id, reason, now)
		},
		redrive: func(ctx context.Context, id string, now time.Time) (any, error) {
			return store.Redrive(ctx, id, now)
		},
		task: func(id string) *asynq.Task {
			return newTask(id, settings.LeaseTTL)
		},
	}
}

// Admin holds the operator read accessors and actions over fulfillment jobs
// and provisioning records.
type Admin struct {
	kinds      map[string]kindOps
	dispatcher *Dispatcher
	enqueuer   task.Enqueuer
	now        func() time.Time
}

type AdminParams struct {
	fx.In
	Settings     job.Settings
	Rewards      *RewardStore
	Credentials  *CredentialStore
	Provisioning *provisioning.Service
	Dispatcher   *Dispatcher
	Enqueuer     task.Enqueuer `optional:"true"`
}

func NewAdmin(p AdminParams) *Admin {
	return &Admin{
		kinds: map[string]kindOps{
			KindReward:              opsFor(p.Rewards, p.Settings, NewRewardTask),
			KindCredential:          opsFor(p.Credentials, p.Settings, NewCredentialTask),
			provisioning.KindWallet: opsFor(p.Provisioning.Wallets(), p.Settings, provisioning.NewWalletTask),
			provisioning.KindTenant: opsFor(p.Provisioning.Tenants(), p.Settings, provisioning.NewTenantTask),
		},
		dispatcher: p.Dispatcher,
		enqueuer:   p.Enqueuer,
		now:        time.Now,
	}
}

func (a *Admin) ops(kind string) (kindOps, error) {
	ops, ok := a.kinds[kind]
	if !ok {
		return kindOps{}, errutil.NotFound("unknown job kind", nil, errutil.WithDetails(errutil.Detail{Field: "kind", Message: kind}))
	}
	return ops, nil
}

func (a *Admin) SearchJobs(ctx context.Context, kind string, f job.Filter) (any, *pagination.PageInfo, error) {
	ops, err := a.ops(kind)
	if err != nil {
		return nil, nil, err
	}
	if f.Status != "" && f.Status.String() == "" {
		return nil, nil, errutil.BadRequest("unknown status", nil, errutil.WithDetails(errutil.Detail{Field: "status", Message: string(f.Status)}))
	}
	rows, info, err := ops.search(ctx, f)
	return rows, info, adminError(err)
}

func (a *Admin) GetJob(ctx context.Context, kind, id string) (any, error) {
	ops, err := a.ops(kind)
	if err != nil {
		return nil, err
	}
	rec, err := ops.get(ctx, id)
	return rec, adminError(err)
}

// ForceFail stops automatic retries of a job. Effects already applied at the
// provider are not reversed.
func (a *Admin) ForceFail(ctx context.Context, kind, id, reason string) (any, error) {
	ops, err := a.ops(kind)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, errutil.BadRequest("reason is required", nil)
	}

	rec, err := ops.forceFail(ctx, id, reason, a.now().UTC())
	if err != nil {
		return nil, adminError(err)
	}
	zap.L().Warn("job force-failed", zap.String("job_kind", kind), zap.String("job_id", id), zap.String("reason", reason))
	return rec, nil
}

// Redrive re-queues a failed job, keeping its retry count, and enqueues it.
func (a *Admin) Redrive(ctx context.Context, kind, id string) (any, error) {
	ops, err := a.ops(kind)
	if err != nil {
		return nil, err
	}

	rec, err := ops.redrive(ctx, id, a.now().UTC())
	if err != nil {
		return nil, adminError(err)
	}
	enqueue(ctx, a.enqueuer, ops.task(id))
	zap.L().Info("job re-driven", zap.String("job_kind", kind), zap.String("job_id", id))
	return rec, nil
}

func (a *Admin) Redispatch(ctx context.Context, engagementID string) error {
	return a.dispatcher.Redispatch(ctx, engagementID)
}

func adminError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, job.ErrNotFound):
		return errutil.NotFound("job not found", err)
	case errors.Is(err, job.ErrCompleted), errors.Is(err, job.ErrInvalidState):
		return errutil.UnprocessableEntity("job cannot change state", err)
	case errors.Is(err, job.ErrLeaseLost):
		return errutil.Conflict("job changed concurrently, retry", err)
	default:
		return err
	}
}
