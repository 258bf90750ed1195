package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/observability"
	"github.com/ayo6706/ramp-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Convert debits fiatMicros and credits the stable equivalent at the
// configured rate. It has no asynchronous leg, so the CONVERT transaction is
// written COMPLETED in the same unit as the balance change.
func (s *LifecycleService) Convert(ctx context.Context, accountID uuid.UUID, fiatMicros int64) (*models.Transaction, error) {
	if err := validateFiatAmount(fiatMicros); err != nil {
		return nil, err
	}
	rate, err := s.rates.GetExchangeRate(ctx, domain.CurrencyFiat, domain.CurrencyStable)
	if err != nil {
		return nil, fmt.Errorf("get exchange rate: %w", err)
	}
	stableMicros, err := domain.FiatToStable(fiatMicros, rate)
	if err != nil {
		return nil, err
	}
	if stableMicros <= 0 {
		return nil, models.NewValidationError("amount", "is too small to convert")
	}

	metadata, err := json.Marshal(map[string]string{
		"rate":        rate.String(),
		"fiat_amount": domain.FormatMicros(fiatMicros, domain.CurrencyFiat),
	})
	if err != nil {
		return nil, fmt.Errorf("encode conversion metadata: %w", err)
	}

	var created models.Transaction
	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := applyDelta(ctx, qtx, accountID, -fiatMicros, stableMicros); err != nil {
			return err
		}
		counter := fiatMicros
		created, err = qtx.CreateTransaction(ctx, repository.CreateTransactionParams{
			ID:            uuid.New(),
			AccountID:     accountID,
			Kind:          domain.TxKindConvert,
			Amount:        stableMicros,
			CounterAmount: &counter,
			Status:        domain.TxStatusCompleted,
			Description: fmt.Sprintf("Converted %s to %s",
				domain.NewMoney(fiatMicros, domain.CurrencyFiat),
				domain.NewMoney(stableMicros, domain.CurrencyStable)),
		})
		if err != nil {
			return fmt.Errorf("create conversion transaction: %w", err)
		}
		return s.audit.Write(ctx, qtx, domain.AuditEntityTransaction, created.ID, &accountID, "created", "", domain.TxStatusCompleted, metadata)
	})
	if err != nil {
		observability.IncrementOperation(domain.TxKindConvert, "rejected")
		return nil, err
	}

	observability.IncrementOperation(domain.TxKindConvert, "completed")
	zap.L().Info("conversion completed",
		zap.String("transaction_id", created.ID.String()),
		zap.Int64("fiat_micros", fiatMicros),
		zap.Int64("stable_micros", stableMicros),
	)
	return &created, nil
}
