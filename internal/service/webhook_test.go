package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHandlePixWebhookSignature(t *testing.T) {
	cases := []struct {
		name    string
		secret  string
		skip    bool
		sign    func(body []byte) string
		wantErr bool
	}{
		{name: "valid", secret: "secret", sign: func(b []byte) string { return signPayload("secret", b) }},
		{name: "wrong_secret", secret: "secret", sign: func(b []byte) string { return signPayload("other", b) }, wantErr: true},
		{name: "missing", secret: "secret", sign: func([]byte) string { return "" }, wantErr: true},
		{name: "no_key_configured", secret: "", sign: func(b []byte) string { return signPayload("", b) }, wantErr: true},
		{name: "skipped", secret: "", skip: true, sign: func([]byte) string { return "" }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			acct := env.store.SeedAccount("hook@example.com", 0, 0)
			dep, err := env.lifecycle.CreateDeposit(context.Background(), acct.ID, 12_340_000)
			require.NoError(t, err)

			svc := NewWebhookService(env.reconciler, tc.secret, tc.skip)
			body := []byte(fmt.Sprintf(`{"event":"pix.received","data":{"txid":%q}}`, dep.ExternalRef))

			res, err := svc.HandlePixWebhook(context.Background(), body, tc.sign(body))
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidSignature)
				assert.Equal(t, int64(0), env.account(t, acct.ID).FiatBalance)
				return
			}
			require.NoError(t, err)
			assert.True(t, res.Processed)
			assert.Equal(t, domain.TxStatusCompleted, res.NewStatus)
			assert.Equal(t, int64(12_340_000), env.account(t, acct.ID).FiatBalance)
		})
	}
}

func TestHandlePixWebhookMalformedPayload(t *testing.T) {
	env := newTestEnv(t)
	svc := NewWebhookService(env.reconciler, "secret", false)

	for _, body := range [][]byte{[]byte(`not json`), []byte(`{"status":"paid"}`)} {
		res, err := svc.HandlePixWebhook(context.Background(), body, signPayload("secret", body))
		require.NoError(t, err)
		assert.False(t, res.Processed)
		assert.Equal(t, ReasonMissingID, res.Reason)
	}
}

func TestSimulatePayment(t *testing.T) {
	env := newTestEnv(t)
	svc := NewWebhookService(env.reconciler, "", false)
	acct := env.store.SeedAccount("sim@example.com", 0, 0)
	dep, err := env.lifecycle.CreateDeposit(context.Background(), acct.ID, 5_000_000)
	require.NoError(t, err)

	res, err := svc.SimulatePayment(context.Background(), dep.ExternalRef)
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.Equal(t, int64(5_000_000), env.account(t, acct.ID).FiatBalance)

	res, err = svc.SimulatePayment(context.Background(), dep.ExternalRef)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(5_000_000), env.account(t, acct.ID).FiatBalance)

	res, err = svc.SimulatePayment(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, ReasonMissingID, res.Reason)
}
