package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"fulfillment-controlplane/pkg/backoff"
	"fulfillment-controlplane/pkg/db/pagination"
	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type sampleJob struct {
	Lineage
	Subject string `gorm:"column:subject;size:64"`
}

func (sampleJob) TableName() string { return "sample_jobs" }

var testPolicy = backoff.Policy{Base: 30 * time.Second, Max: 10 * time.Minute, MaxRetries: 3}

func newSampleStore(t *testing.T) (*Store[sampleJob, *sampleJob], *testutil.Clock) {
	t.Helper()
	db := testutil.NewTestDB(t, &sampleJob{})
	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewStore[sampleJob](db, testutil.NewNode(t)), clock
}

func newSample(key string) *sampleJob {
	return &sampleJob{Lineage: Lineage{IdempotencyKey: key}, Subject: "user-1"}
}

func TestFindOrCreateIsIdempotent(t *testing.T) {
	store, clock := newSampleStore(t)
	ctx := context.Background()

	first, created, err := store.FindOrCreate(ctx, newSample("k1"), clock.Now())
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, StatusQueued, first.Status)

	second, created, err := store.FindOrCreate(ctx, newSample("k1"), clock.Now())
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)

	_, _, err = store.FindOrCreate(ctx, newSample(""), clock.Now())
	require.ErrorIs(t, err, ErrMissingKey)
}

func TestAcquireIsExclusive(t *testing.T) {
	store, clock := newSampleStore(t)
	ctx := context.Background()

	rec, _, err := store.FindOrCreate(ctx, newSample("k1"), clock.Now())
	require.NoError(t, err)

	leased, err := store.Acquire(ctx, rec.ID, "worker-a", clock.Now(), time.Minute)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, leased.Status)
	require.Equal(t, "worker-a", leased.LeaseOwner)

	_, err = store.Acquire(ctx, rec.ID, "worker-b", clock.Now(), time.Minute)
	require.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, store.Complete(ctx, leased, "ext-1", clock.Now()))

	_, err = store.Acquire(ctx, rec.ID, "worker-b", clock.Now(), time.Minute)
	require.ErrorIs(t, err, ErrCompleted)
	require.True(t, IsSkippable(err))
}

func TestTransientFailureSchedulesRetry(t *testing.T) {
	store, clock := newSampleStore(t)
	ctx := context.Background()

	rec, _, err := store.FindOrCreate(ctx, newSample("k1"), clock.Now())
	require.NoError(t, err)
	leased, err := store.Acquire(ctx, rec.ID, "w", clock.Now(), time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Fail(ctx, leased, errutil.Transient("timeout", context.DeadlineExceeded), testPolicy, clock.Now()))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, 1, got.RetryCount)
	require.False(t, got.RetryExempt)
	require.Contains(t, got.ErrorReason, "timeout")
	require.True(t, got.NextAttemptAt.Equal(clock.Now().Add(30*time.Second)))

	_, err = store.Acquire(ctx, rec.ID, "w", clock.Now(), time.Minute)
	require.ErrorIs(t, err, ErrNotDue)

	eligible, err := store.ListEligible(ctx, clock.Now(), 10)
	require.NoError(t, err)
	require.Empty(t, eligible)

	clock.Advance(31 * time.Second)
	eligible, err = store.ListEligible(ctx, clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, eligible, 1)

	leased, err = store.Acquire(ctx, rec.ID, "w", clock.Now(), time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, leased, "ext-1", clock.Now()))

	got, err = store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, 1, got.RetryCount)
	require.Empty(t, got.ErrorReason)
	require.Equal(t, "ext-1", got.ExternalID)
}

func TestPermanentFailureIsExempt(t *testing.T) {
	store, clock := newSampleStore(t)
	ctx := context.Background()

	rec, _, err := store.FindOrCreate(ctx, newSample("k1"), clock.Now())
	require.NoError(t, err)
	leased, err := store.Acquire(ctx, rec.ID, "w", clock.Now(), time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Fail(ctx, leased, errutil.Permanent("wallet closed", errors.New("422")), testPolicy, clock.Now()))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.RetryCount)
	require.True(t, got.RetryExempt)

	clock.Advance(24 * time.Hour)
	eligible, err := store.ListEligible(ctx, clock.Now(), 10)
	require.NoError(t, err)
	require.Empty(t, eligible)

	_, err = store.Acquire(ctx, rec.ID, "w", clock.Now(), time.Minute)
	require.ErrorIs(t, err, ErrRetryExempt)
}

func TestRetriesExhaust(t *testing.T) {
	store, clock := newSampleStore(t)
	ctx := context.Background()
	policy := backoff.Policy{Base: time.Second, Max: time.Minute, MaxRetries: 2}

	rec, _, err := store.FindOrCreate(ctx, newSample("k1"), clock.Now())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		leased, err := store.Acquire(ctx, rec.ID, "w", clock.Now(), time.Minute)
		require.NoError(t, err, "attempt %d", i)
		require.NoError(t, store.Fail(ctx, leased, errors.New("boom"), policy, clock.Now()))
		clock.Advance(time.Hour)
	}

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.RetryCount)
	require.True(t, got.RetryExempt)

	eligible, err := store.ListEligible(ctx, clock.Now(), 10)
	require.NoError(t, err)
	require.Empty(t, eligible)
}

func TestReclaimExpiredLease(t *testing.T) {
	store, clock := newSampleStore(t)
	ctx := context.Background()

	rec, _, err := store.FindOrCreate(ctx, newSample("k1"), clock.Now())
	require.NoError(t, err)
	stale, err := store.Acquire(ctx, rec.ID, "crashed", clock.Now(), time.Minute)
	require.NoError(t, err)

	n, err := store.ReclaimExpired(ctx, clock.Now(), testPolicy)
	require.NoError(t, err)
	require.Zero(t, n)

	clock.Advance(2 * time.Minute)
	n, err = store.ReclaimExpired(ctx, clock.Now(), testPolicy)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, 1, got.RetryCount)
	require.Contains(t, got.ErrorReason, "lease expired")

	// The crashed worker can no longer record an outcome.
	require.ErrorIs(t, store.Complete(ctx, stale, "late", clock.Now()), ErrLeaseLost)
}

func TestForceFailAndRedrive(t *testing.T) {
	store, clock := newSampleStore(t)
	ctx := context.Background()

	rec, _, err := store.FindOrCreate(ctx, newSample("k1"), clock.Now())
	require.NoError(t, err)

	_, err = store.Redrive(ctx, rec.ID, clock.Now())
	require.ErrorIs(t, err, ErrInvalidState)

	failed, err := store.ForceFail(ctx, rec.ID, "operator", clock.Now())
	require.NoError(t, err)
	require.Equal(t, StatusFailed, failed.Status)
	require.True(t, failed.RetryExempt)
	require.Equal(t, "forced: operator", failed.ErrorReason)

	redriven, err := store.Redrive(ctx, rec.ID, clock.Now())
	require.NoError(t, err)
	require.Equal(t, StatusQueued, redriven.Status)
	require.False(t, redriven.RetryExempt)

	leased, err := store.Acquire(ctx, rec.ID, "w", clock.Now(), time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, leased, "ext", clock.Now()))

	_, err = store.ForceFail(ctx, rec.ID, "too late", clock.Now())
	require.ErrorIs(t, err, ErrCompleted)

	_, err = store.ForceFail(ctx, "missing", "x", clock.Now())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestParkAndRequeue(t *testing.T) {
	store, clock := newSampleStore(t)
	ctx := context.Background()

	rec, _, err := store.FindOrCreate(ctx, newSample("k1"), clock.Now())
	require.NoError(t, err)
	leased, err := store.Acquire(ctx, rec.ID, "w", clock.Now(), time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Park(ctx, leased, "waiting for wallet", clock.Now(), 5*time.Minute))

	eligible, err := store.ListEligible(ctx, clock.Now(), 10)
	require.NoError(t, err)
	require.Empty(t, eligible)

	requeued, err := store.RequeueParked(ctx, clock.Now(), "subject = ?", "user-1")
	require.NoError(t, err)
	require.Len(t, requeued, 1)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, got.Status)
	require.Zero(t, got.RetryCount)
}

func TestSearch(t *testing.T) {
	store, clock := newSampleStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, _, err := store.FindOrCreate(ctx, newSample(key), clock.Now())
		require.NoError(t, err)
	}

	page, info, err := store.Search(ctx, Filter{Status: StatusQueued, Pagination: pagination.Pagination{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	rest, info, err := store.Search(ctx, Filter{Status: StatusQueued, Pagination: pagination.Pagination{Limit: 2, Cursor: info.NextCursor}})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.False(t, info.HasMore)

	exempt := true
	none, _, err := store.Search(ctx, Filter{Exempt: &exempt})
	require.NoError(t, err)
	require.Empty(t, none)
}
