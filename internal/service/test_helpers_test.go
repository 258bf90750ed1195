package service

import (
	"context"
	"sync"
	"testing"

	"github.com/ayo6706/ramp-ledger/internal/gateway"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/pixcode"
	"github.com/ayo6706/ramp-ledger/internal/testutil/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testWallet = "0x2222222222222222222222222222222222222222"

type stubGateway struct {
	mu        sync.Mutex
	charge    gateway.Charge
	chargeErr error
	payout    gateway.PayoutResult
	payoutErr error
	payouts   []string
}

func (g *stubGateway) CreateCharge(ctx context.Context, accountRef string, amountMicros int64) (gateway.Charge, error) {
	return g.charge, g.chargeErr
}

func (g *stubGateway) Payout(ctx context.Context, accountRef string, amountMicros int64, payoutKey string) (gateway.PayoutResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payouts = append(g.payouts, payoutKey)
	return g.payout, g.payoutErr
}

func (g *stubGateway) payoutCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.payouts)
}

type stubTransferer struct {
	mu    sync.Mutex
	ref   string
	err   error
	sends []string
	// started and release, when set, block Send until release is closed.
	started chan struct{}
	release chan struct{}
}

func (s *stubTransferer) Send(ctx context.Context, address string, amountMicros int64) (string, error) {
	s.mu.Lock()
	s.sends = append(s.sends, address)
	started, release := s.started, s.release
	s.mu.Unlock()

	if started != nil {
		close(started)
		<-release
	}
	return s.ref, s.err
}

func (s *stubTransferer) lastDestination() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sends) == 0 {
		return ""
	}
	return s.sends[len(s.sends)-1]
}

type testEnv struct {
	store       *memstore.Store
	gateway     *stubGateway
	chain       *stubTransferer
	lifecycle   *LifecycleService
	reconciler  *ReconciliationService
	resolutions *ResolutionService
	accounts    *AccountService
	payouts     *PayoutService
	ledger      *LedgerCheckService
	notified    int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memstore.New()
	gw := &stubGateway{chargeErr: gateway.ErrNotConfigured, payout: gateway.PayoutResult{ExternalID: "E2E-1"}}
	transferer := &stubTransferer{ref: "0xsettled"}
	codes, err := pixcode.NewGenerator(pixcode.Config{})
	require.NoError(t, err)
	rates, err := NewFixedRateService(DefaultExchangeRate)
	require.NoError(t, err)

	reconciler := NewReconciliationService(store)
	env := &testEnv{
		store:       store,
		gateway:     gw,
		chain:       transferer,
		lifecycle:   NewLifecycleService(store, gw, transferer, codes, rates),
		reconciler:  reconciler,
		resolutions: NewResolutionService(store, reconciler),
		accounts:    NewAccountService(store),
		ledger:      NewLedgerCheckService(store),
	}
	env.payouts = NewPayoutService(store, gw, env.reconciler)
	env.lifecycle.SetPayoutNotifier(func() { env.notified++ })
	return env
}

func (e *testEnv) account(t *testing.T, id uuid.UUID) models.Account {
	t.Helper()
	acct, err := e.store.Queries().GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct
}

func (e *testEnv) transaction(t *testing.T, id uuid.UUID) models.Transaction {
	t.Helper()
	tx, err := e.store.Queries().GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx
}

// requireNoDrift asserts every balance matches its transaction history.
func (e *testEnv) requireNoDrift(t *testing.T) {
	t.Helper()
	drifts, err := e.ledger.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, drifts)
}
