package fulfillment

import (
	"fulfillment-controlplane/pkg/money"
	"fulfillment-controlplane/services/job"
	"fulfillment-controlplane/services/opportunity"
)

const (
	KindReward     = "reward"
	KindCredential = "credential"
)

// RewardJob credits the reward snapshotted at dispatch time. ExternalID is
// the wallet transaction id.
type RewardJob struct {
	job.Lineage
	EngagementID  string       `gorm:"column:engagement_id;size:32;not null;index" json:"engagement_id"`
	UserID        string       `gorm:"column:user_id;size:64;not null;index" json:"user_id"`
	OpportunityID string       `gorm:"column:opportunity_id;size:64;not null" json:"opportunity_id"`
	Amount        money.Amount `gorm:"column:amount;not null" json:"amount"`
}

func (RewardJob) TableName() string {
	return "fulfillment_reward_jobs"
}

func RewardKey(userID, engagementID string) string {
	return "reward:" + userID + ":" + engagementID
}

// CredentialJob issues one credential of a schema for a completion.
// ExternalID is the credential id returned by the trust registry.
type CredentialJob struct {
	job.Lineage
	EngagementID     string                  `gorm:"column:engagement_id;size:32;not null;index" json:"engagement_id"`
	UserID           string                  `gorm:"column:user_id;size:64;not null;index" json:"user_id"`
	OrganizationID   string                  `gorm:"column:organization_id;size:64;index" json:"organization_id,omitempty"`
	OpportunityID    string                  `gorm:"column:opportunity_id;size:64;not null" json:"opportunity_id"`
	OpportunityTitle string                  `gorm:"column:opportunity_title" json:"opportunity_title,omitempty"`
	SchemaName       string                  `gorm:"column:schema_name;size:255;not null" json:"schema_name"`
	SchemaVersion    string                  `gorm:"column:schema_version;size:32" json:"schema_version,omitempty"`
	SubjectType      opportunity.SubjectType `gorm:"column:subject_type;size:16;not null" json:"subject_type"`
}

func (CredentialJob) TableName() string {
	return "fulfillment_credential_jobs"
}

func CredentialKey(schema, userID, organizationID, engagementID string) string {
	return "credential:" + schema + ":" + userID + ":" + organizationID + ":" + engagementID
}

// Subject is the tenant the credential is issued against.
func (j *CredentialJob) Subject() (opportunity.SubjectType, string) {
	if j.SubjectType == opportunity.SubjectOrganization {
		return opportunity.SubjectOrganization, j.OrganizationID
	}
	return opportunity.SubjectUser, j.UserID
}

type (
	RewardStore     = job.Store[RewardJob, *RewardJob]
	CredentialStore = job.Store[CredentialJob, *CredentialJob]
)
