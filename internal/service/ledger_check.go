package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/observability"
	"go.uber.org/zap"
)

// LedgerCheckService verifies that stored balances match transaction history.
type LedgerCheckService struct {
	store QueryStore
}

// NewLedgerCheckService creates a ledger check service.
func NewLedgerCheckService(store QueryStore) *LedgerCheckService {
	return &LedgerCheckService{store: store}
}

// Run reports every account whose balances differ from the sum of its
// transactions, and refreshes the held-sends gauge.
func (s *LedgerCheckService) Run(ctx context.Context) ([]models.BalanceDrift, error) {
	drifts, err := s.store.Queries().ListBalanceDrift(ctx)
	if err != nil {
		return nil, fmt.Errorf("run balance drift query: %w", err)
	}

	for _, d := range drifts {
		if d.FiatBalance != d.ExpectedFiat {
			observability.IncrementBalanceDrift(domain.CurrencyFiat)
		}
		if d.StableBalance != d.ExpectedStable {
			observability.IncrementBalanceDrift(domain.CurrencyStable)
		}
		zap.L().Error("CRITICAL: account balance drift detected",
			zap.String("account_id", d.AccountID.String()),
			zap.Int64("fiat_balance", d.FiatBalance),
			zap.Int64("expected_fiat", d.ExpectedFiat),
			zap.Int64("stable_balance", d.StableBalance),
			zap.Int64("expected_stable", d.ExpectedStable),
		)
	}

	held, err := listDispatchedPending(ctx, s.store.Queries(), domain.TxKindOnchainSend)
	if err != nil {
		zap.L().Error("failed to count held sends", zap.Error(err))
	} else {
		observability.SetHeldSends(int64(len(held)))
	}

	if len(drifts) == 0 {
		zap.L().Info("Ledger Balanced")
	}
	return drifts, nil
}
