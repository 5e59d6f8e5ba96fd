package ledger

import (
	"context"
	"encoding/json"
	"time"

	"fulfillment-controlplane/pkg/db/option"
	"fulfillment-controlplane/pkg/db/pagination"
	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/logger"
	"fulfillment-controlplane/pkg/money"
	"fulfillment-controlplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	ledger  repository.Repository[LedgerEntry]
	balance repository.Repository[Balance]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		ledger:  repository.ProvideStore[LedgerEntry](p.DB),
		balance: repository.ProvideStore[Balance](p.DB),
	}
}

type CreditParams struct {
	AccountID     string
	Amount        money.Amount
	TransactionID string
	ReferenceID   string
	Description   string
	Metadata      map[string]any
	Now           time.Time
}

// RecordCredit appends a credit entry and bumps the account balance. It is
// idempotent on ReferenceID. When tx is nil a new transaction is opened.
func (s *Service) RecordCredit(ctx context.Context, tx *gorm.DB, p CreditParams) (*LedgerEntry, error) {
	if !p.Amount.IsPositive() {
		return nil, errutil.BadRequest("amount must be > 0 for CREDIT", nil)
	}
	if p.ReferenceID == "" {
		return nil, errutil.BadRequest("reference_id is required", nil)
	}

	if tx == nil {
		var entry *LedgerEntry
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			entry, err = s.processCredit(ctx, tx, p)
			return err
		})
		return entry, err
	}

	return s.processCredit(ctx, tx, p)
}

func (s *Service) processCredit(ctx context.Context, tx *gorm.DB, p CreditParams) (*LedgerEntry, error) {
	log := logger.FromContext(ctx).With(zap.String("account_id", p.AccountID), zap.String("reference_id", p.ReferenceID))

	ledgerTx := s.ledger.WithTrx(tx)
	balanceTx := s.balance.WithTrx(tx)

	existing, err := ledgerTx.FindOne(ctx, &LedgerEntry{ReferenceID: p.ReferenceID})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Debug("ledger credit already recorded")
		return existing, nil
	}

	lastEntry, err := s.getLastEntry(ctx, tx, p.AccountID)
	if err != nil {
		log.Error("failed to query last entry", zap.Error(err))
		return nil, err
	}

	previousHash := GenesisHash
	if lastEntry != nil {
		previousHash = lastEntry.Hash
	}

	var metadata datatypes.JSON
	if len(p.Metadata) > 0 {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, err
		}
		metadata = datatypes.JSON(b)
	}

	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}

	entry := NewLedgerEntry(LedgerParams{
		LedgerID:      s.node.Generate().String(),
		AccountID:     p.AccountID,
		Type:          EntryTypeCredit,
		Amount:        p.Amount,
		TransactionID: p.TransactionID,
		ReferenceID:   p.ReferenceID,
		Description:   p.Description,
		PreviousHash:  previousHash,
		Metadata:      metadata,
		CreatedAt:     now,
	})
	entry.UpdatedAt = entry.CreatedAt
	entry.Hash = entry.GenerateHash()

	if err := ledgerTx.Create(ctx, entry); err != nil {
		log.Error("failed to create ledger entry", zap.Error(err))
		return nil, err
	}

	balance, err := balanceTx.FindOne(ctx, &Balance{AccountID: p.AccountID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}

	if balance == nil {
		err = balanceTx.Create(ctx, &Balance{
			ID:        s.node.Generate().String(),
			AccountID: p.AccountID,
			Balance:   p.Amount,
			CreatedAt: now,
			UpdatedAt: now,
		})
	} else {
		err = balanceTx.Update(ctx, balance.ID, map[string]any{
			"balance":    gorm.Expr("balance + ?", p.Amount),
			"updated_at": now,
		})
	}
	if err != nil {
		log.Error("failed to update balance", zap.Error(err))
		return nil, err
	}

	return entry, nil
}

func newestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("created_at DESC").Order("id DESC")
}

func oldestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC").Order("id ASC")
}

func (s *Service) getLastEntry(ctx context.Context, tx *gorm.DB, accountID string) (*LedgerEntry, error) {
	return s.ledger.WithTrx(tx).FindOne(ctx, &LedgerEntry{AccountID: accountID},
		newestFirst,
		option.WithLockingUpdate(),
	)
}

// GetBalance returns the account balance, zero when nothing was credited yet.
func (s *Service) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	balance, err := s.balance.FindOne(ctx, &Balance{AccountID: accountID})
	if err != nil {
		logger.FromContext(ctx).Error("failed to query balance", zap.String("account_id", accountID), zap.Error(err))
		return nil, err
	}
	if balance == nil {
		return &Balance{AccountID: accountID}, nil
	}
	return balance, nil
}

func (s *Service) GetEntry(ctx context.Context, id string) (*LedgerEntry, error) {
	entry, err := s.ledger.FindOne(ctx, &LedgerEntry{ID: id})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errutil.NotFound("ledger entry not found", nil)
	}
	return entry, nil
}

func (s *Service) ListEntries(ctx context.Context, accountID string, page pagination.Pagination) ([]*LedgerEntry, *pagination.PageInfo, error) {
	entries, err := s.ledger.Find(ctx, &LedgerEntry{AccountID: accountID}, option.ApplyPagination(page))
	if err != nil {
		logger.FromContext(ctx).Error("failed to query list entries", zap.String("account_id", accountID), zap.Error(err))
		return nil, nil, err
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 10
	}
	info := pagination.BuildCursorPageInfo(entries, int32(limit), func(e *LedgerEntry) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{ID: e.ID})
		return cursor
	})

	return pagination.Trim(entries, limit), info, nil
}

// VerifyChain recomputes every hash of the account chain in order.
func (s *Service) VerifyChain(ctx context.Context, accountID string) (bool, error) {
	entries, err := s.ledger.Find(ctx, &LedgerEntry{AccountID: accountID}, oldestFirst)
	if err != nil {
		logger.FromContext(ctx).Error("failed to query Find entries", zap.String("account_id", accountID), zap.Error(err))
		return false, err
	}

	lastHash := GenesisHash
	for _, entry := range entries {
		if entry.PreviousHash != lastHash || entry.Hash != entry.GenerateHash() {
			logger.FromContext(ctx).Warn("ledger chain broken", zap.String("account_id", accountID), zap.String("entry_id", entry.ID))
			return false, nil
		}
		lastHash = entry.Hash
	}

	return true, nil
}
