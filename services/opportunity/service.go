package opportunity

import (
	"context"
	"strings"
	"time"

	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/money"
	"fulfillment-controlplane/pkg/repository"

	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db   *gorm.DB
	repo repository.Repository[Opportunity]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		repo: repository.ProvideStore[Opportunity](p.DB),
	}
}

// Get loads an opportunity, through tx when one is given.
func (s *Service) Get(ctx context.Context, tx *gorm.DB, id string) (*Opportunity, error) {
	opp, err := s.repo.WithTrx(tx).FindOne(ctx, &Opportunity{ID: id})
	if err != nil {
		return nil, err
	}
	if opp == nil {
		return nil, errutil.NotFound("opportunity not found", nil)
	}
	return opp, nil
}

type SaveParams struct {
	ID                      string             `json:"-"`
	OrganizationID          string             `json:"organization_id"`
	Title                   string             `json:"title"`
	RewardAmount            *money.Amount      `json:"reward_amount"`
	CredentialIssuance      bool               `json:"credential_issuance"`
	CredentialSchema        string             `json:"credential_schema"`
	CredentialSchemaVersion string             `json:"credential_schema_version"`
	CredentialSubject       SubjectType        `json:"credential_subject"`
	VerificationMethod      VerificationMethod `json:"verification_method"`
	RequiredEvidence        []string           `json:"required_evidence"`
	Now                     time.Time          `json:"-"`
}

func (p SaveParams) validate() error {
	details := []errutil.Detail{}
	if strings.TrimSpace(p.ID) == "" {
		details = append(details, errutil.Detail{Field: "id", Message: "is required"})
	}
	if p.RewardAmount != nil && p.RewardAmount.Cents() < 0 {
		details = append(details, errutil.Detail{Field: "reward_amount", Message: "must not be negative"})
	}
	if p.CredentialIssuance && p.CredentialSchema == "" {
		details = append(details, errutil.Detail{Field: "credential_schema", Message: "is required when credential issuance is enabled"})
	}
	switch p.CredentialSubject {
	case "", SubjectUser:
	case SubjectOrganization:
		if p.OrganizationID == "" {
			details = append(details, errutil.Detail{Field: "organization_id", Message: "is required for organization credentials"})
		}
	default:
		details = append(details, errutil.Detail{Field: "credential_subject", Message: "must be user or organization"})
	}
	switch p.VerificationMethod {
	case "", VerificationManual, VerificationAutomatic:
	default:
		details = append(details, errutil.Detail{Field: "verification_method", Message: "must be manual or automatic"})
	}

	if len(details) > 0 {
		return errutil.ValidationFailed("invalid opportunity", nil, errutil.WithDetails(details...))
	}
	return nil
}

// Save creates or replaces the fulfillment configuration of an opportunity.
// Jobs already dispatched keep the amount they were created with.
func (s *Service) Save(ctx context.Context, p SaveParams) (*Opportunity, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	method := p.VerificationMethod
	if method == "" {
		method = VerificationManual
	}
	subject := p.CredentialSubject
	if subject == "" {
		subject = SubjectUser
	}

	opp := &Opportunity{
		ID:                      p.ID,
		OrganizationID:          p.OrganizationID,
		Title:                   p.Title,
		RewardAmount:            p.RewardAmount,
		CredentialIssuance:      p.CredentialIssuance,
		CredentialSchema:        p.CredentialSchema,
		CredentialSchemaVersion: p.CredentialSchemaVersion,
		CredentialSubject:       subject,
		VerificationMethod:      method,
		RequiredEvidence:        p.RequiredEvidence,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if opp.RequiredEvidence == nil {
		opp.RequiredEvidence = []string{}
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"organization_id", "title", "reward_amount", "credential_issuance",
			"credential_schema", "credential_schema_version", "credential_subject",
			"verification_method", "required_evidence", "updated_at",
		}),
	}).Create(opp).Error
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, nil, p.ID)
}
