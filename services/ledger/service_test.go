package ledger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fulfillment-controlplane/pkg/db/option"
	"fulfillment-controlplane/pkg/db/pagination"
	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/middleware"
	"fulfillment-controlplane/pkg/money"
	"fulfillment-controlplane/pkg/repository"
	"fulfillment-controlplane/services/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type repoMock[T any] struct {
	findFn    func(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	findOneFn func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
}

func (m *repoMock[T]) WithTrx(tx *gorm.DB) repository.Repository[T] { return m }

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if m.findFn != nil {
		return m.findFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Create(ctx context.Context, resource *T) error { return nil }

func (m *repoMock[T]) Update(ctx context.Context, resourceID string, resource any) error {
	return nil
}

func (m *repoMock[T]) BatchCreate(ctx context.Context, resources []*T) error { return nil }

func (m *repoMock[T]) BatchUpdate(ctx context.Context, resources []*T) error { return nil }

func (m *repoMock[T]) Count(ctx context.Context, query *T) (int64, error) { return 0, nil }

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &LedgerEntry{}, &Balance{})
	return NewService(ServiceParams{DB: db, Node: testutil.NewNode(t)})
}

func TestRecordCreditChainsEntries(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

	first, err := svc.RecordCredit(ctx, nil, CreditParams{
		AccountID: "user-1", Amount: money.FromCents(1000), TransactionID: "tx-1", ReferenceID: "reward:user-1:e-1", Now: now,
	})
	require.NoError(t, err)
	require.Equal(t, GenesisHash, first.PreviousHash)

	second, err := svc.RecordCredit(ctx, nil, CreditParams{
		AccountID: "user-1", Amount: money.FromCents(250), TransactionID: "tx-2", ReferenceID: "reward:user-1:e-2", Now: now.Add(time.Second),
		Metadata: map[string]any{"opportunity_id": "o-2"},
	})
	require.NoError(t, err)
	require.Equal(t, first.Hash, second.PreviousHash)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, money.FromCents(1250), balance.Balance)

	valid, err := svc.VerifyChain(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, valid)
}

func TestRecordCreditIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	params := CreditParams{AccountID: "user-1", Amount: money.FromCents(1000), TransactionID: "tx-1", ReferenceID: "reward:user-1:e-1"}

	first, err := svc.RecordCredit(ctx, nil, params)
	require.NoError(t, err)
	again, err := svc.RecordCredit(ctx, nil, params)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, money.FromCents(1000), balance.Balance)
}

func TestRecordCreditRejectsNonPositive(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.RecordCredit(context.Background(), nil, CreditParams{AccountID: "user-1", ReferenceID: "r"})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusBadRequest, be.Status())
}

func TestGetBalanceDefaultsToZero(t *testing.T) {
	svc := newTestService(t)

	balance, err := svc.GetBalance(context.Background(), "nobody")
	require.NoError(t, err)
	require.Equal(t, money.Amount(0), balance.Balance)
}

func TestVerifyChainInvalid(t *testing.T) {
	first := NewLedgerEntry(LedgerParams{
		LedgerID: "entry-1", AccountID: "user-1", Type: EntryTypeCredit, Amount: 100,
		PreviousHash: GenesisHash, CreatedAt: time.Now(),
	})
	first.Hash = first.GenerateHash()

	second := NewLedgerEntry(LedgerParams{
		LedgerID: "entry-2", AccountID: "user-1", Type: EntryTypeCredit, Amount: 50,
		PreviousHash: first.Hash, CreatedAt: time.Now().Add(time.Minute),
	})
	second.Hash = "invalid"

	svc := &Service{
		ledger: &repoMock[LedgerEntry]{
			findFn: func(ctx context.Context, _ *LedgerEntry, opts ...option.QueryOption) ([]*LedgerEntry, error) {
				return []*LedgerEntry{first, second}, nil
			},
		},
	}

	valid, err := svc.VerifyChain(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, valid)
}

func TestListEntriesPaginates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i, ref := range []string{"r1", "r2", "r3"} {
		_, err := svc.RecordCredit(ctx, nil, CreditParams{
			AccountID: "user-1", Amount: money.FromCents(100), ReferenceID: ref, Now: time.Now().Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	page, info, err := svc.ListEntries(ctx, "user-1", pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	rest, info, err := svc.ListEntries(ctx, "user-1", pagination.Pagination{Limit: 2, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.False(t, info.HasMore)
}

func TestHandlerVerifyAndMissingEntry(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t)

	r := gin.New()
	r.Use(middleware.Error())
	NewHandler(svc).Register(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/ledger/accounts/user-1/verify", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"valid":true}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/ledger/entries/missing", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}
