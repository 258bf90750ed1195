package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ayo6706/ramp-ledger/internal/chain"
	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/gateway"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/pixcode"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDepositUsesGatewayCharge(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.chargeErr = nil
	env.gateway.charge = gateway.Charge{ExternalID: "cob-1", Code: "provider-code"}
	acct := env.store.SeedAccount("dep@example.com", 0, 0)

	res, err := env.lifecycle.CreateDeposit(context.Background(), acct.ID, 100_000_000)
	require.NoError(t, err)
	assert.Equal(t, "cob-1", res.ExternalRef)
	assert.Equal(t, "provider-code", res.PixCode)
	assert.Equal(t, CodeSourceGateway, res.CodeSource)

	tx := env.transaction(t, res.Transaction.ID)
	assert.Equal(t, domain.TxKindDepositIn, tx.Kind)
	assert.Equal(t, domain.TxStatusPending, tx.Status)
	require.NotNil(t, tx.ExternalRef)
	assert.Equal(t, "cob-1", *tx.ExternalRef)
	require.NotNil(t, tx.SettlementRef)
	assert.Equal(t, "provider-code", *tx.SettlementRef)

	assert.Equal(t, int64(0), env.account(t, acct.ID).FiatBalance)
}

func TestCreateDepositFallsBackToLocalCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{name: "not_configured", err: gateway.ErrNotConfigured},
		{name: "provider_error", err: &gateway.GatewayError{Op: "create_charge", StatusCode: 401, Err: errors.New("unauthorized")}},
		{name: "timeout", err: context.DeadlineExceeded},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.gateway.chargeErr = tc.err
			acct := env.store.SeedAccount("fallback@example.com", 0, 0)

			res, err := env.lifecycle.CreateDeposit(context.Background(), acct.ID, 25_500_000)
			require.NoError(t, err)
			assert.Equal(t, CodeSourceLocal, res.CodeSource)
			assert.True(t, strings.HasPrefix(res.ExternalRef, "pix_"))
			assert.Len(t, res.ExternalRef, 36)
			assert.True(t, pixcode.Verify(res.PixCode))
			assert.Contains(t, res.PixCode, "540525.50")
			assert.Contains(t, res.PixCode, pixcode.CleanReference(res.ExternalRef))
			assert.Equal(t, domain.TxStatusPending, res.Transaction.Status)
		})
	}
}

func TestCreateDepositGatewayWithoutCode(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.chargeErr = nil
	env.gateway.charge = gateway.Charge{ExternalID: "cob77"}
	acct := env.store.SeedAccount("nocode@example.com", 0, 0)

	res, err := env.lifecycle.CreateDeposit(context.Background(), acct.ID, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, "cob77", res.ExternalRef)
	assert.Equal(t, CodeSourceLocal, res.CodeSource)
	assert.True(t, pixcode.Verify(res.PixCode))
	assert.Contains(t, res.PixCode, "0505cob77")
}

func TestCreateDepositValidation(t *testing.T) {
	env := newTestEnv(t)
	acct := env.store.SeedAccount("valid@example.com", 0, 0)

	cases := []struct {
		name    string
		account uuid.UUID
		amount  int64
		want    error
	}{
		{name: "zero", account: acct.ID, amount: 0},
		{name: "negative", account: acct.ID, amount: -1_000_000},
		{name: "sub_cent", account: acct.ID, amount: 1_005_000},
		{name: "unknown_account", account: uuid.New(), amount: 1_000_000, want: models.ErrAccountNotFound},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.lifecycle.CreateDeposit(context.Background(), tc.account, tc.amount)
			require.Error(t, err)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
				return
			}
			var vErr *models.ValidationError
			assert.True(t, errors.As(err, &vErr))
		})
	}
}

func TestConvertAtFixedRate(t *testing.T) {
	env := newTestEnv(t)
	acct := env.store.SeedAccount("convert@example.com", 100_000_000, 0)

	tx, err := env.lifecycle.Convert(context.Background(), acct.ID, 50_000_000)
	require.NoError(t, err)
	assert.Equal(t, domain.TxKindConvert, tx.Kind)
	assert.Equal(t, domain.TxStatusCompleted, tx.Status)
	assert.Equal(t, int64(10_000_000), tx.Amount)
	require.NotNil(t, tx.CounterAmount)
	assert.Equal(t, int64(50_000_000), *tx.CounterAmount)

	after := env.account(t, acct.ID)
	assert.Equal(t, int64(50_000_000), after.FiatBalance)
	assert.Equal(t, int64(10_000_000), after.StableBalance)
	env.requireNoDrift(t)
}

func TestConvertInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	acct := env.store.SeedAccount("poor@example.com", 10_000_000, 0)

	_, err := env.lifecycle.Convert(context.Background(), acct.ID, 10_010_000)
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	after := env.account(t, acct.ID)
	assert.Equal(t, int64(10_000_000), after.FiatBalance)
	assert.Equal(t, int64(0), after.StableBalance)

	txs, err := env.accounts.ListTransactions(context.Background(), acct.ID, 1, 50)
	require.NoError(t, err)
	for _, tx := range txs {
		assert.NotEqual(t, domain.TxKindConvert, tx.Kind)
	}

	_, err = env.lifecycle.Convert(context.Background(), uuid.New(), 1_000_000)
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestLiquidateOnChainSuccess(t *testing.T) {
	env := newTestEnv(t)
	acct := env.store.SeedAccount("liq@example.com", 0, 10_000_000)

	tx, err := env.lifecycle.LiquidateOnChain(context.Background(), LiquidateRequest{
		AccountID:    acct.ID,
		AmountMicros: 5_000_000,
		Destination:  testWallet,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, tx.Status)
	require.NotNil(t, tx.SettlementRef)
	assert.Equal(t, "0xsettled", *tx.SettlementRef)
	assert.Equal(t, testWallet, env.chain.lastDestination())

	assert.Equal(t, int64(5_000_000), env.account(t, acct.ID).StableBalance)
	env.requireNoDrift(t)

	history, err := env.resolutions.audit.History(context.Background(), domain.AuditEntityTransaction, tx.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "created", history[0].Action)
	assert.Equal(t, "onchain_sent", history[1].Action)
}

func TestLiquidateOnChainDefaultsToWallet(t *testing.T) {
	env := newTestEnv(t)
	acct := env.store.SeedAccount("wallet@example.com", 0, 3_000_000)
	_, err := env.accounts.SetWalletAddress(context.Background(), acct.ID, testWallet)
	require.NoError(t, err)

	_, err = env.lifecycle.LiquidateOnChain(context.Background(), LiquidateRequest{AccountID: acct.ID, AmountMicros: 1_000_000})
	require.NoError(t, err)
	assert.Equal(t, testWallet, env.chain.lastDestination())
}

func TestLiquidateOnChainDefiniteFailure(t *testing.T) {
	env := newTestEnv(t)
	env.chain.err = &chain.TransferError{Op: "estimate_gas", Err: errors.New("execution reverted")}
	acct := env.store.SeedAccount("revert@example.com", 0, 10_000_000)

	tx, err := env.lifecycle.LiquidateOnChain(context.Background(), LiquidateRequest{
		AccountID:    acct.ID,
		AmountMicros: 5_000_000,
		Destination:  testWallet,
	})
	require.ErrorIs(t, err, ErrTransferFailed)
	require.NotNil(t, tx)
	assert.Equal(t, domain.TxStatusFailed, tx.Status)

	assert.Equal(t, int64(10_000_000), env.account(t, acct.ID).StableBalance)
	env.requireNoDrift(t)
}

func TestLiquidateOnChainUnknownOutcomeIsHeld(t *testing.T) {
	cases := []struct {
		name       string
		decision   ResolutionDecision
		wantStatus string
		wantStable int64
	}{
		{name: "confirm", decision: DecisionConfirmSent, wantStatus: domain.TxStatusCompleted, wantStable: 6_000_000},
		{name: "refund", decision: DecisionRefundFailed, wantStatus: domain.TxStatusFailed, wantStable: 10_000_000},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.chain.ref = "0xbroadcast"
			env.chain.err = fmt.Errorf("wait for receipt: %w", chain.ErrOutcomeUnknown)
			acct := env.store.SeedAccount("held@example.com", 0, 10_000_000)

			tx, err := env.lifecycle.LiquidateOnChain(context.Background(), LiquidateRequest{
				AccountID:    acct.ID,
				AmountMicros: 4_000_000,
				Destination:  testWallet,
			})
			require.NoError(t, err)
			assert.Equal(t, domain.TxStatusPending, tx.Status)
			assert.NotNil(t, tx.DispatchedAt)
			require.NotNil(t, tx.SettlementRef)
			assert.Equal(t, "0xbroadcast", *tx.SettlementRef)
			assert.Equal(t, int64(6_000_000), env.account(t, acct.ID).StableBalance)
			env.requireNoDrift(t)

			held, err := env.resolutions.ListHeldSends(context.Background())
			require.NoError(t, err)
			require.Len(t, held, 1)

			admin := uuid.New()
			resolved, err := env.resolutions.ResolvePendingSend(context.Background(), ResolveSendRequest{
				TransactionID: tx.ID,
				Decision:      tc.decision,
				Reason:        "checked explorer",
				ActorID:       &admin,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, resolved.Status)
			assert.Equal(t, tc.wantStable, env.account(t, acct.ID).StableBalance)
			env.requireNoDrift(t)

			_, err = env.resolutions.ResolvePendingSend(context.Background(), ResolveSendRequest{
				TransactionID: tx.ID,
				Decision:      tc.decision,
			})
			assert.ErrorIs(t, err, ErrSendNotPending)
		})
	}
}

func TestResolvePendingSendValidation(t *testing.T) {
	env := newTestEnv(t)
	acct := env.store.SeedAccount("resolve@example.com", 100_000_000, 0)

	_, err := env.resolutions.ResolvePendingSend(context.Background(), ResolveSendRequest{TransactionID: uuid.New(), Decision: "maybe"})
	assert.ErrorIs(t, err, ErrInvalidResolutionChoice)

	_, err = env.resolutions.ResolvePendingSend(context.Background(), ResolveSendRequest{TransactionID: uuid.New(), Decision: DecisionConfirmSent})
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)

	conv, err := env.lifecycle.Convert(context.Background(), acct.ID, 5_000_000)
	require.NoError(t, err)
	_, err = env.resolutions.ResolvePendingSend(context.Background(), ResolveSendRequest{TransactionID: conv.ID, Decision: DecisionConfirmSent})
	assert.ErrorIs(t, err, ErrSendNotPending)
}

func TestLiquidateOnChainReservesInFlightSends(t *testing.T) {
	env := newTestEnv(t)
	started, release := make(chan struct{}), make(chan struct{})
	env.chain.started, env.chain.release = started, release
	acct := env.store.SeedAccount("race@example.com", 0, 10_000_000)

	done := make(chan error, 1)
	go func() {
		_, err := env.lifecycle.LiquidateOnChain(context.Background(), LiquidateRequest{
			AccountID:    acct.ID,
			AmountMicros: 8_000_000,
			Destination:  testWallet,
		})
		done <- err
	}()
	<-started

	// Only 2.00 is available while 8.00 is in flight.
	env.chain.mu.Lock()
	env.chain.started, env.chain.release = nil, nil
	env.chain.mu.Unlock()
	_, err := env.lifecycle.LiquidateOnChain(context.Background(), LiquidateRequest{
		AccountID:    acct.ID,
		AmountMicros: 3_000_000,
		Destination:  testWallet,
	})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)
	assert.Equal(t, int64(10_000_000), env.account(t, acct.ID).StableBalance)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int64(2_000_000), env.account(t, acct.ID).StableBalance)
	env.requireNoDrift(t)
}

func TestLiquidateOnChainValidation(t *testing.T) {
	env := newTestEnv(t)
	acct := env.store.SeedAccount("liqval@example.com", 0, 1_000_000)

	cases := []struct {
		name string
		req  LiquidateRequest
		want error
	}{
		{name: "zero_amount", req: LiquidateRequest{AccountID: acct.ID, Destination: testWallet}},
		{name: "no_destination", req: LiquidateRequest{AccountID: acct.ID, AmountMicros: 1}},
		{name: "bad_address", req: LiquidateRequest{AccountID: acct.ID, AmountMicros: 1, Destination: "0x123"}},
		{name: "insufficient", req: LiquidateRequest{AccountID: acct.ID, AmountMicros: 2_000_000, Destination: testWallet}, want: models.ErrInsufficientFunds},
		{name: "unknown_account", req: LiquidateRequest{AccountID: uuid.New(), AmountMicros: 1, Destination: testWallet}, want: models.ErrAccountNotFound},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.lifecycle.LiquidateOnChain(context.Background(), tc.req)
			require.Error(t, err)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
				return
			}
			var vErr *models.ValidationError
			assert.True(t, errors.As(err, &vErr))
		})
	}
	assert.Empty(t, env.chain.lastDestination())
}

func TestRequestWithdrawDebitsImmediately(t *testing.T) {
	env := newTestEnv(t)
	acct := env.store.SeedAccount("wd@example.com", 50_000_000, 0)

	tx, err := env.lifecycle.RequestWithdraw(context.Background(), WithdrawRequest{
		AccountID:    acct.ID,
		AmountMicros: 10_000_000,
		PayoutKey:    " user@pix.example ",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxKindWithdrawOut, tx.Kind)
	assert.Equal(t, domain.TxStatusPending, tx.Status)
	require.NotNil(t, tx.Destination)
	assert.Equal(t, "user@pix.example", *tx.Destination)
	assert.Equal(t, 1, env.notified)

	assert.Equal(t, int64(40_000_000), env.account(t, acct.ID).FiatBalance)
	env.requireNoDrift(t)

	_, err = env.lifecycle.RequestWithdraw(context.Background(), WithdrawRequest{
		AccountID:    acct.ID,
		AmountMicros: 40_010_000,
		PayoutKey:    "user@pix.example",
	})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)
	assert.Equal(t, int64(40_000_000), env.account(t, acct.ID).FiatBalance)
	assert.Equal(t, 1, env.notified)

	_, err = env.lifecycle.RequestWithdraw(context.Background(), WithdrawRequest{AccountID: acct.ID, AmountMicros: 1_000_000})
	var vErr *models.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "pix_key", vErr.Field)
}
