package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"fulfillment-controlplane/pkg/money"

	"gorm.io/datatypes"
)

const (
	EntryTypeCredit = "CREDIT"

	// GenesisHash is the previous hash of the first entry of every account.
	GenesisHash = "GENESIS"
)

// Balance is the running total of an account's ledger entries.
type Balance struct {
	ID        string       `gorm:"column:id;primaryKey;size:32" json:"id"`
	AccountID string       `gorm:"column:account_id;size:64;not null;uniqueIndex" json:"account_id"`
	Balance   money.Amount `gorm:"column:balance;not null;default:0" json:"balance"`
	CreatedAt time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

// LedgerEntry mirrors one provider-side wallet credit. Entries of one account
// form a hash chain.
type LedgerEntry struct {
	ID            string         `gorm:"column:id;primaryKey;size:32" json:"id"`
	CreatedAt     time.Time      `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at" json:"updated_at"`
	AccountID     string         `gorm:"column:account_id;size:64;not null;index" json:"account_id"`
	Type          string         `gorm:"column:type;size:16" json:"type"`
	Amount        money.Amount   `gorm:"column:amount" json:"amount"`
	TransactionID string         `gorm:"column:transaction_id;size:255" json:"transaction_id"`
	ReferenceID   string         `gorm:"column:reference_id;size:255;not null;uniqueIndex" json:"reference_id"`
	Description   string         `gorm:"column:description" json:"description,omitempty"`
	PreviousHash  string         `gorm:"column:previous_hash;size:64" json:"previous_hash"`
	Hash          string         `gorm:"column:hash;size:64" json:"hash"`
	Metadata      datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}

type LedgerParams struct {
	LedgerID      string
	AccountID     string
	Type          string
	Amount        money.Amount
	ReferenceID   string
	TransactionID string
	Description   string
	PreviousHash  string
	Metadata      datatypes.JSON
	CreatedAt     time.Time
}

func NewLedgerEntry(p LedgerParams) *LedgerEntry {
	return &LedgerEntry{
		ID:            p.LedgerID,
		AccountID:     p.AccountID,
		Type:          p.Type,
		Amount:        p.Amount,
		TransactionID: p.TransactionID,
		ReferenceID:   p.ReferenceID,
		Description:   p.Description,
		PreviousHash:  p.PreviousHash,
		Metadata:      p.Metadata,
		// hashed as stored: postgres keeps microseconds
		CreatedAt: p.CreatedAt.UTC().Truncate(time.Microsecond),
	}
}

func (m *LedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"id":             m.ID,
		"account_id":     m.AccountID,
		"type":           m.Type,
		"amount":         m.Amount.String(),
		"transaction_id": m.TransactionID,
		"reference_id":   m.ReferenceID,
		"description":    m.Description,
		"created_at":     m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":  m.PreviousHash,
	}
}

func (m *LedgerEntry) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}
