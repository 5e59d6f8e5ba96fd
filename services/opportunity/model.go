package opportunity

import (
	"time"

	"fulfillment-controlplane/pkg/money"

	"gorm.io/datatypes"
)

type VerificationMethod string

var (
	VerificationManual    VerificationMethod = "manual"
	VerificationAutomatic VerificationMethod = "automatic"
)

type SubjectType string

var (
	SubjectUser         SubjectType = "user"
	SubjectOrganization SubjectType = "organization"
)

// Opportunity holds the fulfillment configuration of a task users complete.
// Only the fields the saga reads are modelled here.
type Opportunity struct {
	ID                      string                      `gorm:"column:id;primaryKey;size:32" json:"id"`
	OrganizationID          string                      `gorm:"column:organization_id;size:64;index" json:"organization_id"`
	Title                   string                      `gorm:"column:title" json:"title"`
	RewardAmount            *money.Amount               `gorm:"column:reward_amount" json:"reward_amount,omitempty"`
	CredentialIssuance      bool                        `gorm:"column:credential_issuance;not null;default:false" json:"credential_issuance"`
	CredentialSchema        string                      `gorm:"column:credential_schema;size:255" json:"credential_schema,omitempty"`
	CredentialSchemaVersion string                      `gorm:"column:credential_schema_version;size:32" json:"credential_schema_version,omitempty"`
	CredentialSubject       SubjectType                 `gorm:"column:credential_subject;size:16" json:"credential_subject,omitempty"`
	VerificationMethod      VerificationMethod          `gorm:"column:verification_method;size:16;not null;default:manual" json:"verification_method"`
	RequiredEvidence        datatypes.JSONSlice[string] `gorm:"column:required_evidence" json:"required_evidence"`
	CreatedAt               time.Time                   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt               time.Time                   `gorm:"column:updated_at" json:"updated_at"`
}

func (o *Opportunity) HasReward() bool {
	return o.RewardAmount != nil && o.RewardAmount.IsPositive()
}

func (o *Opportunity) IsAutomatic() bool {
	return o.VerificationMethod == VerificationAutomatic
}

// CredentialOrganizationID is the organization a credential is issued for,
// empty for personal credentials.
func (o *Opportunity) CredentialOrganizationID() string {
	if o.CredentialSubject == SubjectOrganization {
		return o.OrganizationID
	}
	return ""
}
