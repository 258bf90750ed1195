package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/gateway"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the next `failures` atomic units before delegating.
type flakyStore struct {
	QueryStore
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("conn closed")
	}
	f.mu.Unlock()
	return f.QueryStore.RunInTx(ctx, fn)
}

func requestWithdraw(t *testing.T, env *testEnv, fiat, amount int64) (models.Account, *models.Transaction) {
	t.Helper()
	acct := env.store.SeedAccount(fmt.Sprintf("payout-%d@example.com", time.Now().UnixNano()), fiat, 0)
	tx, err := env.lifecycle.RequestWithdraw(context.Background(), WithdrawRequest{
		AccountID:    acct.ID,
		AmountMicros: amount,
		PayoutKey:    "payee@pix.example",
	})
	require.NoError(t, err)
	return acct, tx
}

func TestProcessPayoutsCompletesWithdrawal(t *testing.T) {
	env := newTestEnv(t)
	acct, wd := requestWithdraw(t, env, 30_000_000, 10_000_000)

	n, err := env.payouts.ProcessPayouts(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, env.gateway.payoutCount())

	tx := env.transaction(t, wd.ID)
	assert.Equal(t, domain.TxStatusCompleted, tx.Status)
	require.NotNil(t, tx.ExternalRef)
	assert.Equal(t, "E2E-1", *tx.ExternalRef)
	assert.Equal(t, int64(20_000_000), env.account(t, acct.ID).FiatBalance)

	// Nothing left to claim.
	n, err = env.payouts.ProcessPayouts(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, env.gateway.payoutCount())
	env.requireNoDrift(t)
}

func TestProcessPayoutsRespectsBatchSize(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		requestWithdraw(t, env, 10_000_000, 1_000_000)
	}

	n, err := env.payouts.ProcessPayouts(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = env.payouts.ProcessPayouts(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := env.accounts.ListAllTransactions(context.Background(), domain.TxStatusPending, domain.TxKindWithdrawOut, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	env.requireNoDrift(t)
}

func TestProcessPayoutsRejectedRefunds(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.payoutErr = &gateway.GatewayError{Op: "payout", StatusCode: 422, Err: fmt.Errorf("invalid key")}
	acct, wd := requestWithdraw(t, env, 30_000_000, 10_000_000)

	n, err := env.payouts.ProcessPayouts(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, domain.TxStatusFailed, env.transaction(t, wd.ID).Status)
	assert.Equal(t, int64(30_000_000), env.account(t, acct.ID).FiatBalance)
	env.requireNoDrift(t)
}

func TestProcessPayoutsNotDispatchedReleasesClaim(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.payoutErr = fmt.Errorf("dial: %w", gateway.ErrNotDispatched)
	acct, wd := requestWithdraw(t, env, 30_000_000, 10_000_000)

	_, err := env.payouts.ProcessPayouts(context.Background(), 10)
	require.NoError(t, err)

	tx := env.transaction(t, wd.ID)
	assert.Equal(t, domain.TxStatusPending, tx.Status)
	assert.Nil(t, tx.DispatchedAt)
	assert.Equal(t, int64(20_000_000), env.account(t, acct.ID).FiatBalance)

	env.gateway.mu.Lock()
	env.gateway.payoutErr = nil
	env.gateway.mu.Unlock()
	n, err := env.payouts.ProcessPayouts(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.TxStatusCompleted, env.transaction(t, wd.ID).Status)
	env.requireNoDrift(t)
}

func TestProcessPayoutsAmbiguousOutcomeStaysClaimed(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.payoutErr = &gateway.GatewayError{Op: "payout", Err: context.DeadlineExceeded}
	acct, wd := requestWithdraw(t, env, 30_000_000, 10_000_000)

	_, err := env.payouts.ProcessPayouts(context.Background(), 10)
	require.NoError(t, err)

	tx := env.transaction(t, wd.ID)
	assert.Equal(t, domain.TxStatusPending, tx.Status)
	assert.NotNil(t, tx.DispatchedAt)
	assert.Equal(t, int64(20_000_000), env.account(t, acct.ID).FiatBalance)

	// Not retried; a later provider event settles it.
	n, err := env.payouts.ProcessPayouts(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, env.gateway.payoutCount())

	res, err := env.reconciler.HandleEvent(context.Background(), wd.ID.String(), "completed")
	require.NoError(t, err)
	assert.True(t, res.Processed)
	env.requireNoDrift(t)
}

func TestProcessPayoutsCancelledContextReleases(t *testing.T) {
	env := newTestEnv(t)
	_, wd := requestWithdraw(t, env, 30_000_000, 10_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := env.payouts.ProcessPayouts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, env.gateway.payoutCount())
	assert.Nil(t, env.transaction(t, wd.ID).DispatchedAt)
}

func TestProcessPayoutsWithSimulatedGateway(t *testing.T) {
	env := newTestEnv(t)
	sim := gateway.NewSimulatedGateway(time.Millisecond)
	payouts := NewPayoutService(env.store, sim, env.reconciler)
	acct, wd := requestWithdraw(t, env, 30_000_000, 10_000_000)

	n, err := payouts.ProcessPayouts(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tx := env.transaction(t, wd.ID)
	assert.Equal(t, domain.TxStatusCompleted, tx.Status)
	require.NotNil(t, tx.ExternalRef)
	assert.Contains(t, *tx.ExternalRef, "out_pix_")
	assert.Equal(t, int64(20_000_000), env.account(t, acct.ID).FiatBalance)
	env.requireNoDrift(t)
}

func TestProcessPayoutsRequeuesUnappliedOutcome(t *testing.T) {
	cases := []struct {
		name       string
		payoutErr  error
		wantStatus string
		wantFiat   int64
	}{
		{name: "refund", payoutErr: &gateway.GatewayError{Op: "payout", StatusCode: 422, Err: fmt.Errorf("invalid key")}, wantStatus: domain.TxStatusFailed, wantFiat: 30_000_000},
		{name: "completion", wantStatus: domain.TxStatusCompleted, wantFiat: 20_000_000},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.gateway.payoutErr = tc.payoutErr
			flaky := &flakyStore{QueryStore: env.store, failures: reportAttempts + 1}
			payouts := NewPayoutService(env.store, env.gateway, NewReconciliationService(flaky))
			payouts.backoff = time.Millisecond
			acct, wd := requestWithdraw(t, env, 30_000_000, 10_000_000)

			n, err := payouts.ProcessPayouts(context.Background(), 10)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			assert.Equal(t, domain.TxStatusPending, env.transaction(t, wd.ID).Status)
			assert.Equal(t, 1, payouts.Unreported())

			// The next run applies the queued outcome without paying again.
			n, err = payouts.ProcessPayouts(context.Background(), 10)
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.Zero(t, payouts.Unreported())
			assert.Equal(t, 1, env.gateway.payoutCount())
			assert.Equal(t, tc.wantStatus, env.transaction(t, wd.ID).Status)
			assert.Equal(t, tc.wantFiat, env.account(t, acct.ID).FiatBalance)
			env.requireNoDrift(t)
		})
	}
}

func TestResolveClaimedWithdrawal(t *testing.T) {
	cases := []struct {
		name       string
		decision   ResolutionDecision
		wantStatus string
		wantFiat   int64
	}{
		{name: "confirm", decision: DecisionConfirmPaid, wantStatus: domain.TxStatusCompleted, wantFiat: 20_000_000},
		{name: "refund", decision: DecisionRefundFailed, wantStatus: domain.TxStatusFailed, wantFiat: 30_000_000},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.gateway.payoutErr = fmt.Errorf("payout: %w", context.DeadlineExceeded)
			acct, wd := requestWithdraw(t, env, 30_000_000, 10_000_000)

			_, err := env.payouts.ProcessPayouts(context.Background(), 10)
			require.NoError(t, err)
			n, err := env.payouts.ProcessPayouts(context.Background(), 10)
			require.NoError(t, err)
			assert.Zero(t, n)

			claimed, err := env.resolutions.ListClaimedWithdrawals(context.Background())
			require.NoError(t, err)
			require.Len(t, claimed, 1)
			assert.Equal(t, wd.ID, claimed[0].ID)

			admin := uuid.New()
			resolved, err := env.resolutions.ResolveClaimedWithdrawal(context.Background(), ResolveWithdrawalRequest{
				TransactionID: wd.ID,
				Decision:      tc.decision,
				Reason:        "checked provider statement",
				ActorID:       &admin,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, resolved.Status)
			assert.Equal(t, tc.wantFiat, env.account(t, acct.ID).FiatBalance)
			env.requireNoDrift(t)

			history, err := env.accounts.audit.History(context.Background(), domain.AuditEntityTransaction, wd.ID)
			require.NoError(t, err)
			require.NotEmpty(t, history)
			last := history[len(history)-1]
			require.NotNil(t, last.ActorID)
			assert.Equal(t, admin, *last.ActorID)

			claimed, err = env.resolutions.ListClaimedWithdrawals(context.Background())
			require.NoError(t, err)
			assert.Empty(t, claimed)

			_, err = env.resolutions.ResolveClaimedWithdrawal(context.Background(), ResolveWithdrawalRequest{TransactionID: wd.ID, Decision: tc.decision})
			assert.ErrorIs(t, err, ErrWithdrawalNotClaimed)
			assert.Equal(t, tc.wantFiat, env.account(t, acct.ID).FiatBalance)
		})
	}
}

func TestResolveClaimedWithdrawalValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.resolutions.ResolveClaimedWithdrawal(ctx, ResolveWithdrawalRequest{TransactionID: uuid.New(), Decision: DecisionConfirmSent})
	assert.ErrorIs(t, err, ErrInvalidResolutionChoice)

	_, err = env.resolutions.ResolveClaimedWithdrawal(ctx, ResolveWithdrawalRequest{TransactionID: uuid.New(), Decision: DecisionRefundFailed})
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)

	// Not yet handed to the provider: the payout worker still owns it.
	acct, wd := requestWithdraw(t, env, 30_000_000, 10_000_000)
	_, err = env.resolutions.ResolveClaimedWithdrawal(ctx, ResolveWithdrawalRequest{TransactionID: wd.ID, Decision: DecisionRefundFailed})
	assert.ErrorIs(t, err, ErrWithdrawalNotClaimed)
	assert.Equal(t, domain.TxStatusPending, env.transaction(t, wd.ID).Status)
	assert.Equal(t, int64(20_000_000), env.account(t, acct.ID).FiatBalance)

	conv, err := env.lifecycle.Convert(ctx, acct.ID, 5_000_000)
	require.NoError(t, err)
	_, err = env.resolutions.ResolveClaimedWithdrawal(ctx, ResolveWithdrawalRequest{TransactionID: conv.ID, Decision: DecisionConfirmPaid})
	assert.ErrorIs(t, err, ErrWithdrawalNotClaimed)
}
