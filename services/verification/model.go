package verification

import (
	"time"

	"fulfillment-controlplane/pkg/money"

	"gorm.io/datatypes"
)

type Action string

var (
	ActionViewed                Action = "viewed"
	ActionSaved                 Action = "saved"
	ActionNavigatedExternalLink Action = "navigated_external_link"
	ActionVerification          Action = "verification"
)

func (a Action) String() string {
	switch a {
	case ActionViewed, ActionSaved, ActionNavigatedExternalLink, ActionVerification:
		return string(a)
	default:
		return ""
	}
}

type Status string

var (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

func (s Status) String() string {
	switch s {
	case StatusPending, StatusCompleted, StatusRejected:
		return string(s)
	default:
		return ""
	}
}

type EvidenceType string

var (
	EvidenceFile        EvidenceType = "file"
	EvidencePicture     EvidenceType = "picture"
	EvidenceGeolocation EvidenceType = "geolocation"
	EvidenceVoiceNote   EvidenceType = "voice_note"
)

func (t EvidenceType) Valid() bool {
	switch t {
	case EvidenceFile, EvidencePicture, EvidenceGeolocation, EvidenceVoiceNote:
		return true
	default:
		return false
	}
}

// SystemReviewer finalizes opportunities verified automatically.
const SystemReviewer = "system"

// Engagement is one row per (user, opportunity, action). Only the
// verification action carries a status.
type Engagement struct {
	ID              string        `gorm:"column:id;primaryKey;size:32" json:"id"`
	UserID          string        `gorm:"column:user_id;size:64;not null;uniqueIndex:idx_engagement_claim,priority:1" json:"user_id"`
	OpportunityID   string        `gorm:"column:opportunity_id;size:64;not null;uniqueIndex:idx_engagement_claim,priority:2" json:"opportunity_id"`
	Action          Action        `gorm:"column:action;size:32;not null;uniqueIndex:idx_engagement_claim,priority:3" json:"action"`
	Status          *Status       `gorm:"column:status;size:16;index" json:"status,omitempty"`
	Attempt         int           `gorm:"column:attempt;not null;default:0" json:"attempt"`
	ReviewerComment string        `gorm:"column:reviewer_comment" json:"reviewer_comment,omitempty"`
	ReviewerID      string        `gorm:"column:reviewer_id;size:64" json:"reviewer_id,omitempty"`
	StartedAt       *time.Time    `gorm:"column:started_at" json:"started_at,omitempty"`
	EndedAt         *time.Time    `gorm:"column:ended_at" json:"ended_at,omitempty"`
	CompletedAt     *time.Time    `gorm:"column:completed_at" json:"completed_at,omitempty"`
	RewardAmount    *money.Amount `gorm:"column:reward_amount" json:"reward_amount,omitempty"`
	CreatedAt       time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (e *Engagement) StatusValue() Status {
	if e.Status == nil {
		return ""
	}
	return *e.Status
}

// Evidence is immutable. Each submission attempt carries its own rows.
type Evidence struct {
	ID           string         `gorm:"column:id;primaryKey;size:32" json:"id"`
	EngagementID string         `gorm:"column:engagement_id;size:32;not null;uniqueIndex:idx_evidence_item,priority:1" json:"engagement_id"`
	Attempt      int            `gorm:"column:attempt;not null;uniqueIndex:idx_evidence_item,priority:2" json:"attempt"`
	Type         EvidenceType   `gorm:"column:type;size:32;not null;uniqueIndex:idx_evidence_item,priority:3" json:"type"`
	Reference    string         `gorm:"column:reference;size:1024" json:"reference,omitempty"`
	Geometry     datatypes.JSON `gorm:"column:geometry" json:"geometry,omitempty"`
	CreatedAt    time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (Evidence) TableName() string {
	return "verification_evidence"
}
