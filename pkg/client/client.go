package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"fulfillment-controlplane/pkg/config"
	"fulfillment-controlplane/pkg/errutil"

	"github.com/go-resty/resty/v2"
	"go.uber.org/fx"
)

var Module = fx.Module("provider.client",
	fx.Provide(
		NewWalletClient,
		NewTrustRegistryClient,
	),
)

// apiError is the error body both providers return.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newRestClient(baseURL, apiKey string, timeout time.Duration) *resty.Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return c
}

func providerTimeout(cfg *config.Config) time.Duration {
	return cfg.Fulfillment.ProviderTimeout
}

// classify maps a provider call outcome to a transient or permanent error.
// Network failures, timeouts, 408, 429 and 5xx are transient. Every other
// non-2xx response is permanent.
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
			return errutil.Transient("timeout", fmt.Errorf("%s: %w", op, err))
		case errors.Is(err, context.Canceled):
			return errutil.Transient("canceled", fmt.Errorf("%s: %w", op, err))
		default:
			return errutil.Transient("network", fmt.Errorf("%s: %w", op, err))
		}
	}

	if !resp.IsError() {
		return nil
	}

	status := resp.StatusCode()
	detail := fmt.Errorf("%s: status %d: %s", op, status, errorMessage(resp))
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return errutil.Transient(http.StatusText(status), detail)
	default:
		return errutil.Permanent(http.StatusText(status), detail)
	}
}

func errorMessage(resp *resty.Response) string {
	if e, ok := resp.Error().(*apiError); ok && e != nil && e.Message != "" {
		return e.Message
	}
	body := resp.String()
	if len(body) > 256 {
		body = body[:256]
	}
	return body
}
