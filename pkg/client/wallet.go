package client

import (
	"context"

	"fulfillment-controlplane/pkg/config"
	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/money"

	"github.com/go-resty/resty/v2"
)

// WalletClient talks to the wallet provider. Each call carries an
// Idempotency-Key header so replays never double-apply.
type WalletClient struct {
	rest *resty.Client
}

func NewWalletClient(cfg *config.Config) *WalletClient {
	return &WalletClient{rest: newRestClient(cfg.Wallet.BaseURL, cfg.Wallet.APIKey, providerTimeout(cfg))}
}

type createWalletRequest struct {
	OwnerID string `json:"owner_id"`
}

type createWalletResponse struct {
	WalletID string `json:"wallet_id"`
}

func (c *WalletClient) CreateWallet(ctx context.Context, ownerID, idempotencyKey string) (string, error) {
	var out createWalletResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", idempotencyKey).
		SetBody(createWalletRequest{OwnerID: ownerID}).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/wallets")
	if err := classify("create wallet", resp, err); err != nil {
		return "", err
	}
	if out.WalletID == "" {
		return "", errutil.Permanent("malformed response", nil)
	}
	return out.WalletID, nil
}

type creditRequest struct {
	Amount money.Amount `json:"amount"`
}

type creditResponse struct {
	TransactionID string `json:"transaction_id"`
}

func (c *WalletClient) Credit(ctx context.Context, walletID string, amount money.Amount, idempotencyKey string) (string, error) {
	var out creditResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("walletID", walletID).
		SetHeader("Idempotency-Key", idempotencyKey).
		SetBody(creditRequest{Amount: amount}).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/wallets/{walletID}/credits")
	if err := classify("credit wallet", resp, err); err != nil {
		return "", err
	}
	if out.TransactionID == "" {
		return "", errutil.Permanent("malformed response", nil)
	}
	return out.TransactionID, nil
}
