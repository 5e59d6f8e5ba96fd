package job

import (
	"context"
	"errors"
	"time"

	"fulfillment-controlplane/pkg/backoff"
	"fulfillment-controlplane/pkg/db/option"
	"fulfillment-controlplane/pkg/db/pagination"
	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store implements the status machine of Lineage for one concrete table.
// Every transition is a conditional update on (id, version), so two workers
// never both win a lease or both record an outcome.
type Store[T any, PT interface {
	*T
	Record
}] struct {
	db   *gorm.DB
	node *snowflake.Node
	repo repository.Repository[T]
}

func NewStore[T any, PT interface {
	*T
	Record
}](db *gorm.DB, node *snowflake.Node) *Store[T, PT] {
	return &Store[T, PT]{
		db:   db,
		node: node,
		repo: repository.ProvideStore[T](db),
	}
}

func (s *Store[T, PT]) WithTrx(tx *gorm.DB) *Store[T, PT] {
	if tx == nil {
		return s
	}
	return &Store[T, PT]{db: tx, node: s.node, repo: s.repo.WithTrx(tx)}
}

// FindOrCreate inserts rec unless a row with the same idempotency key exists,
// in which case the existing row is returned and created is false.
func (s *Store[T, PT]) FindOrCreate(ctx context.Context, rec PT, now time.Time) (PT, bool, error) {
	l := rec.Job()
	if l.IdempotencyKey == "" {
		return nil, false, ErrMissingKey
	}
	if l.ID == "" {
		l.ID = s.node.Generate().String()
	}
	if l.Status == "" {
		l.Status = StatusQueued
	}
	l.NextAttemptAt = &now
	l.CreatedAt = now
	l.UpdatedAt = now

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return rec, true, nil
	}

	existing, err := s.GetByKey(ctx, l.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Store[T, PT]) Get(ctx context.Context, id string) (PT, error) {
	var query T
	PT(&query).Job().ID = id
	return s.findOne(ctx, &query)
}

func (s *Store[T, PT]) GetByKey(ctx context.Context, key string) (PT, error) {
	var query T
	PT(&query).Job().IdempotencyKey = key
	return s.findOne(ctx, &query)
}

func (s *Store[T, PT]) findOne(ctx context.Context, query *T) (PT, error) {
	rec, err := s.repo.FindOne(ctx, query)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return PT(rec), nil
}

// Where returns every row matching the raw condition, oldest first.
func (s *Store[T, PT]) Where(ctx context.Context, query string, args ...any) ([]PT, error) {
	rows, err := s.repo.Find(ctx, nil,
		option.WithWhere(query, args...),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}),
	)
	if err != nil {
		return nil, err
	}
	return toRecords[T, PT](rows), nil
}

// Acquire takes the processing lease on the job identified by id.
func (s *Store[T, PT]) Acquire(ctx context.Context, id, owner string, now time.Time, ttl time.Duration) (PT, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	l := rec.Job()
	if err := l.acquirable(now); err != nil {
		return nil, err
	}

	expires := now.Add(ttl)
	res := s.db.WithContext(ctx).Model(new(T)).
		Where("id = ? AND version = ?", l.ID, l.Version).
		Updates(map[string]any{
			"status":           StatusProcessing,
			"lease_owner":      owner,
			"lease_expires_at": expires,
			"version":          gorm.Expr("version + 1"),
			"updated_at":       now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrLeaseHeld
	}

	l.Status = StatusProcessing
	l.LeaseOwner = owner
	l.LeaseExpiresAt = &expires
	l.Version++
	l.UpdatedAt = now

	return rec, nil
}

// transition applies updates only while rec still holds its lease.
func (s *Store[T, PT]) transition(ctx context.Context, l *Lineage, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(new(T)).
		Where("id = ? AND version = ? AND status = ?", l.ID, l.Version, StatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	l.Version++
	return nil
}

func (s *Store[T, PT]) Complete(ctx context.Context, rec PT, externalID string, now time.Time) error {
	l := rec.Job()
	err := s.transition(ctx, l, map[string]any{
		"status":           StatusCompleted,
		"external_id":      externalID,
		"error_reason":     "",
		"completed_at":     now,
		"next_attempt_at":  nil,
		"lease_owner":      "",
		"lease_expires_at": nil,
		"version":          gorm.Expr("version + 1"),
		"updated_at":       now,
	})
	if err != nil {
		return err
	}

	l.Status = StatusCompleted
	l.ExternalID = externalID
	l.ErrorReason = ""
	l.CompletedAt = &now
	l.NextAttemptAt = nil
	l.LeaseOwner = ""
	l.LeaseExpiresAt = nil
	l.UpdatedAt = now
	return nil
}

// Fail records a provider failure. Transient failures bump the retry count and
// schedule the next attempt; permanent failures and exhausted retries leave the
// job exempt from scans until an operator re-drives it.
func (s *Store[T, PT]) Fail(ctx context.Context, rec PT, cause error, policy backoff.Policy, now time.Time) error {
	l := rec.Job()

	permanent := errutil.IsPermanent(cause)
	retryCount := l.RetryCount
	if !permanent {
		retryCount++
	}
	exempt := permanent || !policy.CanRetry(retryCount)
	next := now.Add(policy.Delay(retryCount))
	reason := errutil.ReasonOf(cause)

	err := s.transition(ctx, l, map[string]any{
		"status":           StatusFailed,
		"retry_count":      retryCount,
		"retry_exempt":     exempt,
		"error_reason":     reason,
		"next_attempt_at":  next,
		"lease_owner":      "",
		"lease_expires_at": nil,
		"version":          gorm.Expr("version + 1"),
		"updated_at":       now,
	})
	if err != nil {
		return err
	}

	l.Status = StatusFailed
	l.RetryCount = retryCount
	l.RetryExempt = exempt
	l.ErrorReason = reason
	l.NextAttemptAt = &next
	l.LeaseOwner = ""
	l.LeaseExpiresAt = nil
	l.UpdatedAt = now
	return nil
}

// Park moves a leased job to pending while it waits on a prerequisite. The
// job is re-queued when the prerequisite completes, or by the scanner once
// interval has elapsed.
func (s *Store[T, PT]) Park(ctx context.Context, rec PT, reason string, now time.Time, interval time.Duration) error {
	l := rec.Job()
	next := now.Add(interval)

	err := s.transition(ctx, l, map[string]any{
		"status":           StatusPending,
		"error_reason":     reason,
		"next_attempt_at":  next,
		"lease_owner":      "",
		"lease_expires_at": nil,
		"version":          gorm.Expr("version + 1"),
		"updated_at":       now,
	})
	if err != nil {
		return err
	}

	l.Status = StatusPending
	l.ErrorReason = reason
	l.NextAttemptAt = &next
	l.LeaseOwner = ""
	l.LeaseExpiresAt = nil
	l.UpdatedAt = now
	return nil
}

// ListEligible returns rows the scanner should hand to workers: queued rows,
// due pending rows and due failed rows that are not retry exempt.
func (s *Store[T, PT]) ListEligible(ctx context.Context, now time.Time, limit int) ([]PT, error) {
	var rows []*T
	err := s.db.WithContext(ctx).Model(new(T)).
		Where("status = ?", StatusQueued).
		Or("status = ? AND retry_exempt = ? AND next_attempt_at <= ?", StatusFailed, false, now).
		Or("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)", StatusPending, now).
		Order("created_at").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toRecords[T, PT](rows), nil
}

// ReclaimExpired fails every processing row whose lease has expired. A crashed
// worker therefore costs one transient retry, never the job.
func (s *Store[T, PT]) ReclaimExpired(ctx context.Context, now time.Time, policy backoff.Policy) (int, error) {
	var rows []*T
	err := s.db.WithContext(ctx).Model(new(T)).
		Where("status = ? AND lease_expires_at < ?", StatusProcessing, now).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, row := range rows {
		rec := PT(row)
		err := s.Fail(ctx, rec, errutil.Transient("lease expired", nil), policy, now)
		if errors.Is(err, ErrLeaseLost) {
			continue
		}
		if err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}

// RequeueParked moves pending rows matching the condition back to queued.
func (s *Store[T, PT]) RequeueParked(ctx context.Context, now time.Time, query string, args ...any) ([]PT, error) {
	rows, err := s.Where(ctx, "status = ? AND "+query, append([]any{StatusPending}, args...)...)
	if err != nil {
		return nil, err
	}

	requeued := make([]PT, 0, len(rows))
	for _, rec := range rows {
		l := rec.Job()
		res := s.db.WithContext(ctx).Model(new(T)).
			Where("id = ? AND version = ? AND status = ?", l.ID, l.Version, StatusPending).
			Updates(map[string]any{
				"status":          StatusQueued,
				"next_attempt_at": now,
				"version":         gorm.Expr("version + 1"),
				"updated_at":      now,
			})
		if res.Error != nil {
			return requeued, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		l.Status = StatusQueued
		l.NextAttemptAt = &now
		l.Version++
		requeued = append(requeued, rec)
	}
	return requeued, nil
}

// ForceFail is the operator stop switch: the row becomes failed and exempt
// from automatic retry. External effects already applied are not reversed.
func (s *Store[T, PT]) ForceFail(ctx context.Context, id, reason string, now time.Time) (PT, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	l := rec.Job()
	if l.Status == StatusCompleted {
		return nil, ErrCompleted
	}

	res := s.db.WithContext(ctx).Model(new(T)).
		Where("id = ? AND version = ?", l.ID, l.Version).
		Updates(map[string]any{
			"status":           StatusFailed,
			"retry_exempt":     true,
			"error_reason":     "forced: " + reason,
			"next_attempt_at":  nil,
			"lease_owner":      "",
			"lease_expires_at": nil,
			"version":          gorm.Expr("version + 1"),
			"updated_at":       now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrLeaseLost
	}

	return s.Get(ctx, id)
}

// Redrive puts a failed row back in the queue. The retry count is kept so the
// history of the lineage stays visible.
func (s *Store[T, PT]) Redrive(ctx context.Context, id string, now time.Time) (PT, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	l := rec.Job()
	if l.Status != StatusFailed {
		return nil, ErrInvalidState
	}

	res := s.db.WithContext(ctx).Model(new(T)).
		Where("id = ? AND version = ? AND status = ?", l.ID, l.Version, StatusFailed).
		Updates(map[string]any{
			"status":          StatusQueued,
			"retry_exempt":    false,
			"next_attempt_at": now,
			"version":         gorm.Expr("version + 1"),
			"updated_at":      now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrLeaseLost
	}

	return s.Get(ctx, id)
}

type Filter struct {
	Status     Status
	Exempt     *bool
	Pagination pagination.Pagination
}

// Search lists rows for operator tooling, keyset paginated on id.
func (s *Store[T, PT]) Search(ctx context.Context, f Filter) ([]PT, *pagination.PageInfo, error) {
	opts := []option.QueryOption{}
	if f.Status != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "status", Operator: option.EQ, Value: f.Status}))
	}
	if f.Exempt != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "retry_exempt", Operator: option.EQ, Value: *f.Exempt}))
	}
	opts = append(opts, option.ApplyPagination(f.Pagination))

	rows, err := s.repo.Find(ctx, nil, opts...)
	if err != nil {
		return nil, nil, err
	}

	limit := f.Pagination.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 250 {
		limit = 250
	}
	info := pagination.BuildCursorPageInfo(rows, int32(limit), func(row *T) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{ID: PT(row).Job().ID})
		return cursor
	})

	return toRecords[T, PT](pagination.Trim(rows, limit)), info, nil
}

func toRecords[T any, PT interface {
	*T
	Record
}](rows []*T) []PT {
	out := make([]PT, len(rows))
	for i, row := range rows {
		out[i] = PT(row)
	}
	return out
}
