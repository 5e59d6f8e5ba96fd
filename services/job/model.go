package job

import (
	"time"
)

type Status string

var (
	StatusQueued     Status = "queued"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) String() string {
	switch s {
	case StatusQueued, StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return string(s)
	default:
		return ""
	}
}

// Lineage is the retry-tracked state shared by fulfillment jobs and
// provisioning records. It is embedded in each concrete table.
type Lineage struct {
	ID             string     `gorm:"column:id;primaryKey;size:32" json:"id"`
	IdempotencyKey string     `gorm:"column:idempotency_key;size:255;not null;uniqueIndex" json:"idempotency_key"`
	Status         Status     `gorm:"column:status;size:16;not null;index" json:"status"`
	RetryCount     int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	RetryExempt    bool       `gorm:"column:retry_exempt;not null;default:false" json:"retry_exempt"`
	ErrorReason    string     `gorm:"column:error_reason;size:1024" json:"error_reason,omitempty"`
	ExternalID     string     `gorm:"column:external_id;size:255" json:"external_id,omitempty"`
	NextAttemptAt  *time.Time `gorm:"column:next_attempt_at;index" json:"next_attempt_at,omitempty"`
	LeaseOwner     string     `gorm:"column:lease_owner;size:128" json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `gorm:"column:lease_expires_at" json:"lease_expires_at,omitempty"`
	Version        int64      `gorm:"column:version;not null;default:0" json:"version"`
	CompletedAt    *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

// Record is implemented by every table that embeds Lineage.
type Record interface {
	Job() *Lineage
}

func (l *Lineage) Job() *Lineage {
	return l
}

func (l *Lineage) IsCompleted() bool {
	return l.Status == StatusCompleted
}

// acquirable reports whether a worker may take the lease at now.
func (l *Lineage) acquirable(now time.Time) error {
	switch l.Status {
	case StatusQueued:
		return nil
	case StatusCompleted:
		return ErrCompleted
	case StatusProcessing:
		return ErrLeaseHeld
	case StatusFailed:
		if l.RetryExempt {
			return ErrRetryExempt
		}
		if l.NextAttemptAt != nil && l.NextAttemptAt.After(now) {
			return ErrNotDue
		}
		return nil
	case StatusPending:
		if l.NextAttemptAt != nil && l.NextAttemptAt.After(now) {
			return ErrNotDue
		}
		return nil
	default:
		return ErrInvalidState
	}
}
