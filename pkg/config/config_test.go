package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, int64(1), cfg.NodeID)
	require.Equal(t, 8, cfg.Fulfillment.MaxRetries)
	require.Equal(t, 30*time.Second, cfg.Fulfillment.BackoffBase)
	require.Equal(t, time.Hour, cfg.Fulfillment.BackoffMax)
	require.Equal(t, "@every 15s", cfg.Fulfillment.ScanSchedule)
	require.Equal(t, "required.all(t, t in supplied)", cfg.Verification.EvidenceRule)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FULFILLMENT_MAX_RETRIES", "3")
	t.Setenv("FULFILLMENT_LEASE_TTL", "45s")
	t.Setenv("VERIFICATION_EVIDENCE_RULE", "supplied.exists(t, t in required)")
	t.Setenv("WALLET_BASE_URL", "http://wallet.local")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Fulfillment.MaxRetries)
	require.Equal(t, 45*time.Second, cfg.Fulfillment.LeaseTTL)
	require.Equal(t, "supplied.exists(t, t in required)", cfg.Verification.EvidenceRule)
	require.Equal(t, "http://wallet.local", cfg.Wallet.BaseURL)
}
