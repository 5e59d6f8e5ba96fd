package provisioning

import (
	"fulfillment-controlplane/services/job"
	"fulfillment-controlplane/services/opportunity"
)

// WalletRecord tracks the one-time creation of a user's token wallet.
// ExternalID holds the provider wallet id once completed. Uniqueness per
// subject comes from the idempotency key.
type WalletRecord struct {
	job.Lineage
	OwnerID string `gorm:"column:owner_id;size:64;not null;index" json:"owner_id"`
}

func (WalletRecord) TableName() string {
	return "provisioning_wallets"
}

func WalletKey(ownerID string) string {
	return "wallet:" + ownerID
}

// TenantRecord tracks the trust registry tenant of a user or an organization.
type TenantRecord struct {
	job.Lineage
	EntityType opportunity.SubjectType `gorm:"column:entity_type;size:16;not null;index:idx_tenant_entity,priority:1" json:"entity_type"`
	EntityID   string                  `gorm:"column:entity_id;size:64;not null;index:idx_tenant_entity,priority:2" json:"entity_id"`
}

func (TenantRecord) TableName() string {
	return "provisioning_tenants"
}

func TenantKey(entityType opportunity.SubjectType, entityID string) string {
	return "tenant:" + string(entityType) + ":" + entityID
}
