package featureflags

import (
	"context"
	"testing"

	"fulfillment-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestIsEnabledFallsBackWithoutClient(t *testing.T) {
	ff := ProvideFeatureFlag(FeatureParams{Config: &config.Config{}})

	require.True(t, ff.IsEnabled(context.Background(), CredentialIssuance, "org-1", true))
	require.False(t, ff.IsEnabled(context.Background(), CredentialIssuance, "org-1", false))

	features, err := ff.Features(context.Background(), "org-1")
	require.NoError(t, err)
	require.Empty(t, features)
}
