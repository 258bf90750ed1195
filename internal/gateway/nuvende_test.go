package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu         sync.Mutex
	tokenCalls atomic.Int32
	charges    []map[string]any
	payouts    []map[string]any
	failPayout bool
}

func (p *fakeProvider) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		p.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/pix/cob", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		p.mu.Lock()
		p.charges = append(p.charges, body)
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"txid":"cob-123","pixCopiaECola":"000201...6304ABCD"}`))
	})
	mux.HandleFunc("/v1/pix/payments", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		p.mu.Lock()
		p.payouts = append(p.payouts, body)
		p.mu.Unlock()
		if p.failPayout {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"invalid key"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"e2eId":"E2E-999"}`))
	})
	return mux
}

func newTestGateway(t *testing.T, p *fakeProvider) *NuvendeGateway {
	t.Helper()
	srv := httptest.NewServer(p.handler(t))
	t.Cleanup(srv.Close)

	gw, err := NewNuvendeGateway(NuvendeConfig{
		BaseURL:      srv.URL + "/v1",
		ClientID:     "cid",
		ClientSecret: "secret",
		Scopes:       "cob.write pix.write",
		PixKey:       "merchant@example.com",
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)
	return gw
}

func TestNuvendeCreateCharge(t *testing.T) {
	p := &fakeProvider{}
	gw := newTestGateway(t, p)

	charge, err := gw.CreateCharge(context.Background(), "acct-1", 100_000_000)
	require.NoError(t, err)
	assert.Equal(t, "cob-123", charge.ExternalID)
	assert.Equal(t, "000201...6304ABCD", charge.Code)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.charges, 1)
	valor := p.charges[0]["valor"].(map[string]any)
	assert.Equal(t, "100.00", valor["original"])
	cal := p.charges[0]["calendario"].(map[string]any)
	assert.EqualValues(t, 3600, cal["expiracao"])
	assert.Equal(t, "merchant@example.com", p.charges[0]["chave"])
}

func TestNuvendeTokenIsReused(t *testing.T) {
	p := &fakeProvider{}
	gw := newTestGateway(t, p)

	for i := 0; i < 3; i++ {
		_, err := gw.CreateCharge(context.Background(), "acct-1", 1_000_000)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, p.tokenCalls.Load())
}

func TestNuvendePayout(t *testing.T) {
	p := &fakeProvider{}
	gw := newTestGateway(t, p)

	res, err := gw.Payout(context.Background(), "acct-1", 10_500_000, "user@pix.example")
	require.NoError(t, err)
	assert.Equal(t, "E2E-999", res.ExternalID)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.payouts, 1)
	assert.Equal(t, "10.50", p.payouts[0]["valor"])
	fav := p.payouts[0]["favorecido"].(map[string]any)
	assert.Equal(t, "user@pix.example", fav["chave"])
}

func TestNuvendePayoutRejected(t *testing.T) {
	p := &fakeProvider{failPayout: true}
	gw := newTestGateway(t, p)

	_, err := gw.Payout(context.Background(), "acct-1", 10_000_000, "bad-key")
	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "payout", gwErr.Op)
	assert.Equal(t, http.StatusUnprocessableEntity, gwErr.StatusCode)
}

func TestNuvendeStaticAPIKey(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"cob-9","brcode":"code-9"}`))
	}))
	defer srv.Close()

	gw, err := NewNuvendeGateway(NuvendeConfig{BaseURL: srv.URL, APIKey: "static-key"})
	require.NoError(t, err)

	charge, err := gw.CreateCharge(context.Background(), "acct-1", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, "Bearer static-key", auth.Load())
	assert.Equal(t, Charge{ExternalID: "cob-9", Code: "code-9"}, charge)
}

func TestNuvendeNotConfigured(t *testing.T) {
	_, err := NewNuvendeGateway(NuvendeConfig{BaseURL: "http://localhost"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSimulatedGateway(t *testing.T) {
	gw := NewSimulatedGateway(0)
	gw.now = func() time.Time { return time.UnixMilli(1700000000123) }

	_, err := gw.CreateCharge(context.Background(), "acct-1", 1)
	assert.ErrorIs(t, err, ErrNotConfigured)

	res, err := gw.Payout(context.Background(), "acct-1", 1_000_000, "key")
	require.NoError(t, err)
	assert.Equal(t, "out_pix_1700000000123", res.ExternalID)

	gw.FailPayouts = true
	_, err = gw.Payout(context.Background(), "acct-1", 1_000_000, "key")
	var gwErr *GatewayError
	assert.True(t, errors.As(err, &gwErr))

	slow := NewSimulatedGateway(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = slow.Payout(ctx, "acct-1", 1_000_000, "key")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrNotDispatched)
}
