package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fulfillment-controlplane/pkg/config"
)

func TestDelayExponentialAndCapped(t *testing.T) {
	p := Policy{Base: time.Second, Max: 10 * time.Second, MaxRetries: 5}

	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{60, 10 * time.Second},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, p.Delay(tc.retryCount), "retry %d", tc.retryCount)
	}
}

func TestDelayMonotonic(t *testing.T) {
	p := Policy{Base: 250 * time.Millisecond, Max: time.Minute}

	prev := time.Duration(0)
	for rc := 1; rc < 100; rc++ {
		d := p.Delay(rc)
		require.GreaterOrEqual(t, d, prev)
		require.LessOrEqual(t, d, time.Minute)
		prev = d
	}
}

func TestDelayWithoutCapDoesNotOverflow(t *testing.T) {
	p := Policy{Base: time.Hour}
	require.Greater(t, p.Delay(200), time.Duration(0))
}

func TestCanRetry(t *testing.T) {
	p := Policy{MaxRetries: 3}

	require.True(t, p.CanRetry(1))
	require.True(t, p.CanRetry(3))
	require.False(t, p.CanRetry(4))
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Fulfillment.BackoffBase = 5 * time.Second
	cfg.Fulfillment.BackoffMax = time.Minute
	cfg.Fulfillment.MaxRetries = 4

	require.Equal(t, Policy{Base: 5 * time.Second, Max: time.Minute, MaxRetries: 4}, FromConfig(cfg))
}
