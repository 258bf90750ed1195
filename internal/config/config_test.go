package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("WEBHOOK_SKIP_SIG", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "5", cfg.ExchangeRate.String())
	assert.Equal(t, int32(10), cfg.PayoutBatchSize)
	assert.Equal(t, 10*time.Second, cfg.PayoutPollInterval)
	assert.Equal(t, 30*time.Second, cfg.Nuvende.Timeout)
	assert.False(t, cfg.Nuvende.Configured())
	assert.False(t, cfg.EVM.Configured())
	assert.Equal(t, 6, cfg.EVM.TokenDecimals)
}

func TestLoadPrefixedKeysWin(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("WEBHOOK_HMAC_KEY", "plain")
	t.Setenv("RAMP_WEBHOOK_HMAC_KEY", "prefixed")
	t.Setenv("RAMP_EXCHANGE_RATE", "5.25")
	t.Setenv("PAYOUT_BATCH_SIZE", "25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.WebhookHMACKey)
	assert.Equal(t, "5.25", cfg.ExchangeRate.String())
	assert.Equal(t, int32(25), cfg.PayoutBatchSize)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing_secret", env: map[string]string{"WEBHOOK_SKIP_SIG": "true"}},
		{name: "short_secret", env: map[string]string{"JWT_SECRET": "short", "WEBHOOK_SKIP_SIG": "true"}},
		{name: "missing_hmac", env: map[string]string{"JWT_SECRET": testSecret}},
		{name: "zero_rate", env: map[string]string{"JWT_SECRET": testSecret, "WEBHOOK_SKIP_SIG": "true", "EXCHANGE_RATE": "0"}},
		{name: "bad_rate", env: map[string]string{"JWT_SECRET": testSecret, "WEBHOOK_SKIP_SIG": "true", "EXCHANGE_RATE": "five"}},
		{name: "bad_duration", env: map[string]string{"JWT_SECRET": testSecret, "WEBHOOK_SKIP_SIG": "true", "PAYOUT_POLL_INTERVAL": "soon"}},
		{name: "long_merchant", env: map[string]string{"JWT_SECRET": testSecret, "WEBHOOK_SKIP_SIG": "true", "PIX_MERCHANT_NAME": strings.Repeat("a", 120)}},
		{name: "admin_without_password", env: map[string]string{"JWT_SECRET": testSecret, "WEBHOOK_SKIP_SIG": "true", "ADMIN_EMAIL": "admin@example.com"}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}
