package fulfillment

import (
	"context"
	"time"

	"fulfillment-controlplane/pkg/config"
	"fulfillment-controlplane/pkg/rediskey"
	"fulfillment-controlplane/pkg/task"
	"fulfillment-controlplane/services/job"
	"fulfillment-controlplane/services/provisioning"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const schedulerName = "scan"

type Locker interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// source is one table the scanner sweeps.
type source struct {
	kind     string
	reclaim  func(ctx context.Context, now time.Time) (int, error)
	eligible func(ctx context.Context, now time.Time, limit int) ([]string, error)
	task     func(id string) *asynq.Task
}

func newSource[T any, PT interface {
	*T
	job.Record
}](kind string, store *job.Store[T, PT], settings job.Settings, newTask func(string, time.Duration) *asynq.Task) source {
	return source{
		kind: kind,
		reclaim: func(ctx context.Context, now time.Time) (int, error) {
			return store.ReclaimExpired(ctx, now, settings.Policy)
		},
		eligible: func(ctx context.Context, now time.Time, limit int) ([]string, error) {
			rows, err := store.ListEligible(ctx, now, limit)
			if err != nil {
				return nil, err
			}
			ids := make([]string, 0, len(rows))
			for _, rec := range rows {
				ids = append(ids, rec.Job().ID)
			}
			return ids, nil
		},
		task: func(id string) *asynq.Task {
			return newTask(id, settings.LeaseTTL)
		},
	}
}

// Scheduler periodically reclaims expired leases and hands eligible rows to
// the worker pool. Only the instance holding the leader lock scans.
type Scheduler struct {
	cron     *cron.Cron
	spec     string
	locker   Locker
	token    string
	enqueuer task.Enqueuer
	sources  []source
	settings job.Settings
	now      func() time.Time
}

type SchedulerParams struct {
	fx.In
	Config       *config.Config
	Settings     job.Settings
	Rewards      *RewardStore
	Credentials  *CredentialStore
	Provisioning *provisioning.Service
	Enqueuer     task.Enqueuer
	Locker       Locker `optional:"true"`
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(zap.NewStdLog(zap.L()))))),
		spec:     p.Config.Fulfillment.ScanSchedule,
		locker:   p.Locker,
		token:    p.Settings.Owner + ":" + uuid.NewString(),
		enqueuer: p.Enqueuer,
		settings: p.Settings,
		now:      time.Now,
		sources: []source{
			newSource(provisioning.KindWallet, p.Provisioning.Wallets(), p.Settings, provisioning.NewWalletTask),
			newSource(provisioning.KindTenant, p.Provisioning.Tenants(), p.Settings, provisioning.NewTenantTask),
			newSource(KindReward, p.Rewards, p.Settings, NewRewardTask),
			newSource(KindCredential, p.Credentials, p.Settings, NewCredentialTask),
		},
	}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := s.cron.AddFunc(s.spec, func() { s.Tick(context.Background()) }); err != nil {
				return err
			}
			s.cron.Start()
			zap.L().Info("[Scheduler] started fulfillment scanner", zap.String("schedule", s.spec))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			select {
			case <-s.cron.Stop().Done():
			case <-ctx.Done():
			}
			zap.L().Warn("[Scheduler] stopped")
			return nil
		},
	})
}

// Tick runs one scan if this instance wins the leader lock.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.locker != nil {
		key := rediskey.BuildSchedulerLockKey(schedulerName)
		ok, err := s.locker.TryLock(ctx, key, s.token, s.settings.LeaseTTL)
		if err != nil {
			zap.L().Error("[Scheduler] failed to take leader lock", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := s.locker.Unlock(context.Background(), key, s.token); err != nil {
				zap.L().Warn("[Scheduler] failed to release leader lock", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	if err := s.Scan(ctx); err != nil {
		zap.L().Error("[Scheduler] scan failed", zap.Error(err))
		return
	}
	zap.L().Debug("[Scheduler] scan finished", zap.Duration("duration", time.Since(start)))
}

// Scan sweeps every source concurrently.
func (s *Scheduler) Scan(ctx context.Context) error {
	_, err := s.scan(ctx)
	return err
}

// scan returns the ids it enqueued, keyed by kind.
func (s *Scheduler) scan(ctx context.Context) (map[string][]string, error) {
	now := s.now().UTC()
	limit := s.settings.BatchSize
	if limit <= 0 {
		limit = 100
	}

	found := make([][]string, len(s.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range s.sources {
		i, src := i, src
		g.Go(func() error {
			n, err := src.reclaim(gctx, now)
			if err != nil {
				return err
			}
			job.ObserveReclaimed(src.kind, n)
			if n > 0 {
				zap.L().Warn("[Scheduler] reclaimed expired leases", zap.String("job_kind", src.kind), zap.Int("count", n))
			}

			ids, err := src.eligible(gctx, now, limit)
			if err != nil {
				return err
			}
			for _, id := range ids {
				enqueue(gctx, s.enqueuer, src.task(id))
			}
			found[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(s.sources))
	for i, src := range s.sources {
		out[src.kind] = found[i]
	}
	return out, nil
}
