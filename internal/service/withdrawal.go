package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/observability"
	"github.com/ayo6706/ramp-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pix keys are at most 77 characters (EVP keys are 36, emails up to 77).
const maxPayoutKeyLength = 77

type WithdrawRequest struct {
	AccountID    uuid.UUID
	AmountMicros int64
	PayoutKey    string
}

// RequestWithdraw debits the fiat amount and records a PENDING WITHDRAW_OUT in
// one unit, so the funds are unavailable from the moment the request is
// accepted. The payout itself is made later by PayoutService.
func (s *LifecycleService) RequestWithdraw(ctx context.Context, req WithdrawRequest) (*models.Transaction, error) {
	if err := validateFiatAmount(req.AmountMicros); err != nil {
		return nil, err
	}
	key := strings.TrimSpace(req.PayoutKey)
	if key == "" {
		return nil, models.NewValidationError("pix_key", "is required")
	}
	if utf8.RuneCountInString(key) > maxPayoutKeyLength {
		return nil, models.NewValidationError("pix_key", fmt.Sprintf("must be at most %d characters", maxPayoutKeyLength))
	}

	metadata, err := json.Marshal(map[string]string{"pix_key": key})
	if err != nil {
		return nil, fmt.Errorf("encode withdrawal metadata: %w", err)
	}

	var created models.Transaction
	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := applyDelta(ctx, qtx, req.AccountID, -req.AmountMicros, 0); err != nil {
			return err
		}
		var err error
		created, err = qtx.CreateTransaction(ctx, repository.CreateTransactionParams{
			ID:          uuid.New(),
			AccountID:   req.AccountID,
			Kind:        domain.TxKindWithdrawOut,
			Amount:      req.AmountMicros,
			Status:      domain.TxStatusPending,
			Destination: &key,
			Description: fmt.Sprintf("Pix withdrawal of %s", domain.NewMoney(req.AmountMicros, domain.CurrencyFiat)),
		})
		if err != nil {
			return fmt.Errorf("create withdrawal transaction: %w", err)
		}
		return s.audit.Write(ctx, qtx, domain.AuditEntityTransaction, created.ID, &req.AccountID, "created", "", domain.TxStatusPending, metadata)
	})
	if err != nil {
		observability.IncrementOperation(domain.TxKindWithdrawOut, "rejected")
		return nil, err
	}

	observability.IncrementOperation(domain.TxKindWithdrawOut, "accepted")
	zap.L().Info("withdrawal accepted",
		zap.String("transaction_id", created.ID.String()),
		zap.Int64("amount_micros", req.AmountMicros),
	)
	s.notifyPayout()
	return &created, nil
}
