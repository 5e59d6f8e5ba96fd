package client

import (
	"context"

	"fulfillment-controlplane/pkg/config"
	"fulfillment-controlplane/pkg/errutil"

	"github.com/go-resty/resty/v2"
)

// TrustRegistryClient talks to the credential trust registry.
type TrustRegistryClient struct {
	rest *resty.Client
}

func NewTrustRegistryClient(cfg *config.Config) *TrustRegistryClient {
	return &TrustRegistryClient{rest: newRestClient(cfg.TrustRegistry.BaseURL, cfg.TrustRegistry.APIKey, providerTimeout(cfg))}
}

type createTenantRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

type createTenantResponse struct {
	TenantID string `json:"tenant_id"`
}

func (c *TrustRegistryClient) CreateTenant(ctx context.Context, entityType, entityID, idempotencyKey string) (string, error) {
	var out createTenantResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", idempotencyKey).
		SetBody(createTenantRequest{EntityType: entityType, EntityID: entityID}).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/tenants")
	if err := classify("create tenant", resp, err); err != nil {
		return "", err
	}
	if out.TenantID == "" {
		return "", errutil.Permanent("malformed response", nil)
	}
	return out.TenantID, nil
}

type CredentialRequest struct {
	SchemaName    string         `json:"schema_name"`
	SchemaVersion string         `json:"schema_version,omitempty"`
	Claims        map[string]any `json:"claims"`
}

type issueCredentialResponse struct {
	CredentialID string `json:"credential_id"`
}

func (c *TrustRegistryClient) IssueCredential(ctx context.Context, tenantID string, req CredentialRequest, idempotencyKey string) (string, error) {
	var out issueCredentialResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("tenantID", tenantID).
		SetHeader("Idempotency-Key", idempotencyKey).
		SetBody(req).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/tenants/{tenantID}/credentials")
	if err := classify("issue credential", resp, err); err != nil {
		return "", err
	}
	if out.CredentialID == "" {
		return "", errutil.Permanent("malformed response", nil)
	}
	return out.CredentialID, nil
}
