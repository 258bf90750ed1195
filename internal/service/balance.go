package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/repository"
	"github.com/google/uuid"
)

// applyDelta is the only writer of account balances. It locks the account
// row, validates the result with domain.ApplyDelta and stores it, all through
// qtx. Callers write the paired transaction row with the same qtx.
func applyDelta(ctx context.Context, qtx repository.Querier, accountID uuid.UUID, fiatDelta, stableDelta int64) (models.Account, error) {
	account, err := qtx.GetAccountForUpdate(ctx, accountID)
	if err != nil {
		return models.Account{}, accountLookupError(err, "lock account")
	}

	next, err := domain.ApplyDelta(domain.Balances{
		Fiat:   account.FiatBalance,
		Stable: account.StableBalance,
	}, fiatDelta, stableDelta)
	if err != nil {
		return models.Account{}, err
	}

	rows, err := qtx.UpdateAccountBalances(ctx, repository.UpdateAccountBalancesParams{
		ID:            accountID,
		FiatBalance:   next.Fiat,
		StableBalance: next.Stable,
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("update account balances: %w", err)
	}
	if err := requireExactlyOne(rows, "update account balances"); err != nil {
		return models.Account{}, err
	}

	account.FiatBalance = next.Fiat
	account.StableBalance = next.Stable
	return account, nil
}
