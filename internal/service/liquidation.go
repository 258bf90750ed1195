package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/ramp-ledger/internal/chain"
	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/observability"
	"github.com/ayo6706/ramp-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTransferFailed wraps a definite on-chain failure. The transaction it
// belongs to is FAILED and no balance moved.
var ErrTransferFailed = errors.New("on-chain transfer failed")

type LiquidateRequest struct {
	AccountID    uuid.UUID
	AmountMicros int64
	// Destination defaults to the account's wallet address when empty.
	Destination string
}

// LiquidateOnChain sends stablecoin to an external address. The PENDING row is
// written before the send so a crash mid-call leaves a record. The stable
// balance is debited only once the chain reports success, or held when the
// outcome is unknown.
func (s *LifecycleService) LiquidateOnChain(ctx context.Context, req LiquidateRequest) (*models.Transaction, error) {
	if req.AmountMicros <= 0 {
		return nil, models.NewValidationError("amount", "must be greater than zero")
	}
	account, err := s.store.Queries().GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, accountLookupError(err, "get account")
	}
	destination := strings.TrimSpace(req.Destination)
	if destination == "" && account.WalletAddress != nil {
		destination = *account.WalletAddress
	}
	if destination == "" {
		return nil, models.NewValidationError("destination", "is required when the account has no wallet address")
	}
	if !chain.IsAddress(destination) {
		return nil, models.NewValidationError("destination", "must be a 0x-prefixed 20-byte hex address")
	}

	pending, err := s.createPendingSend(ctx, req.AccountID, req.AmountMicros, destination)
	if err != nil {
		observability.IncrementOperation(domain.TxKindOnchainSend, "rejected")
		return nil, err
	}

	// The request may go away but the send must not be abandoned halfway.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	settlementRef, sendErr := s.chain.Send(sendCtx, destination, req.AmountMicros)
	cancel()

	persistCtx := context.WithoutCancel(ctx)
	switch {
	case sendErr == nil:
		return s.completeSend(persistCtx, pending.ID, settlementRef)
	case errors.Is(sendErr, chain.ErrOutcomeUnknown):
		return s.holdSend(persistCtx, pending.ID, settlementRef, sendErr)
	default:
		return s.failSend(persistCtx, pending.ID, sendErr)
	}
}

func (s *LifecycleService) createPendingSend(ctx context.Context, accountID uuid.UUID, amountMicros int64, destination string) (models.Transaction, error) {
	var created models.Transaction
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		account, err := qtx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return accountLookupError(err, "lock account")
		}
		// Sends already in flight are not debited yet but will be, so they
		// count against the balance now.
		inFlight, err := qtx.SumInFlightOnchainSends(ctx, accountID)
		if err != nil {
			return fmt.Errorf("sum in-flight sends: %w", err)
		}
		if account.StableBalance-inFlight < amountMicros {
			return models.ErrInsufficientFunds
		}

		created, err = qtx.CreateTransaction(ctx, repository.CreateTransactionParams{
			ID:          uuid.New(),
			AccountID:   accountID,
			Kind:        domain.TxKindOnchainSend,
			Amount:      amountMicros,
			Status:      domain.TxStatusPending,
			Destination: &destination,
			Description: fmt.Sprintf("On-chain send of %s to %s", domain.NewMoney(amountMicros, domain.CurrencyStable), destination),
		})
		if err != nil {
			return fmt.Errorf("create send transaction: %w", err)
		}
		return s.audit.Write(ctx, qtx, domain.AuditEntityTransaction, created.ID, &accountID, "created", "", domain.TxStatusPending, nil)
	})
	return created, err
}

func (s *LifecycleService) completeSend(ctx context.Context, transactionID uuid.UUID, settlementRef string) (*models.Transaction, error) {
	var out models.Transaction
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		tx, err := qtx.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return transactionLookupError(err, "lock send transaction")
		}
		if tx.Status != domain.TxStatusPending {
			// An operator resolved it while the call was running.
			out = tx
			return nil
		}
		if _, err := applyDelta(ctx, qtx, tx.AccountID, 0, -tx.Amount); err != nil {
			return err
		}
		ref := settlementRef
		if err := transitionTransactionState(ctx, qtx, s.audit, tx.ID, tx.Status, transition{
			next:          domain.TxStatusCompleted,
			settlementRef: &ref,
			action:        "onchain_sent",
		}); err != nil {
			return err
		}
		out, err = qtx.GetTransaction(ctx, tx.ID)
		return err
	})
	if err != nil {
		// The tokens left but the ledger does not show it. Keep the hash
		// somewhere an operator can find it.
		zap.L().Error("CRITICAL: on-chain send succeeded but debit was not recorded",
			zap.String("transaction_id", transactionID.String()),
			zap.String("settlement_ref", settlementRef),
			zap.Error(err),
		)
		s.recordSettlementRef(ctx, transactionID, settlementRef)
		return nil, fmt.Errorf("record completed send %s: %w", transactionID, err)
	}

	observability.IncrementOperation(domain.TxKindOnchainSend, "completed")
	zap.L().Info("on-chain send completed", zap.String("transaction_id", transactionID.String()), zap.String("settlement_ref", settlementRef))
	return &out, nil
}

// holdSend debits the amount while the outcome is unknown, so the funds
// cannot be spent again before an operator confirms or refunds.
func (s *LifecycleService) holdSend(ctx context.Context, transactionID uuid.UUID, settlementRef string, cause error) (*models.Transaction, error) {
	metadata, err := marshalReasonMetadata(cause.Error())
	if err != nil {
		return nil, fmt.Errorf("encode hold metadata: %w", err)
	}

	var out models.Transaction
	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		tx, err := qtx.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return transactionLookupError(err, "lock send transaction")
		}
		if tx.Status != domain.TxStatusPending {
			out = tx
			return nil
		}
		if _, err := applyDelta(ctx, qtx, tx.AccountID, 0, -tx.Amount); err != nil {
			return err
		}
		var ref *string
		if settlementRef != "" {
			ref = &settlementRef
		}
		rows, err := qtx.UpdateTransactionStatus(ctx, repository.UpdateTransactionStatusParams{
			ID:            tx.ID,
			Status:        domain.TxStatusPending,
			SettlementRef: ref,
		})
		if err != nil {
			return fmt.Errorf("record broadcast hash: %w", err)
		}
		if err := requireExactlyOne(rows, "record broadcast hash"); err != nil {
			return err
		}
		rows, err = qtx.MarkTransactionDispatched(ctx, tx.ID)
		if err != nil {
			return fmt.Errorf("mark send held: %w", err)
		}
		if err := requireExactlyOne(rows, "mark send held"); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, domain.AuditEntityTransaction, tx.ID, nil, "onchain_outcome_unknown", tx.Status, tx.Status, metadata); err != nil {
			return err
		}
		out, err = qtx.GetTransaction(ctx, tx.ID)
		return err
	})
	if err != nil {
		zap.L().Error("CRITICAL: on-chain send outcome unknown and hold was not recorded",
			zap.String("transaction_id", transactionID.String()),
			zap.String("settlement_ref", settlementRef),
			zap.Error(err),
		)
		s.recordSettlementRef(ctx, transactionID, settlementRef)
		return nil, fmt.Errorf("hold send %s: %w", transactionID, err)
	}

	observability.IncrementOperation(domain.TxKindOnchainSend, "held")
	observability.IncrementSendResolution("queued")
	zap.L().Warn("on-chain send held for operator review",
		zap.String("transaction_id", transactionID.String()),
		zap.String("settlement_ref", settlementRef),
		zap.Error(cause),
	)
	return &out, nil
}

func (s *LifecycleService) failSend(ctx context.Context, transactionID uuid.UUID, cause error) (*models.Transaction, error) {
	metadata, err := marshalReasonMetadata(cause.Error())
	if err != nil {
		return nil, fmt.Errorf("encode failure metadata: %w", err)
	}

	var out models.Transaction
	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		tx, err := qtx.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return transactionLookupError(err, "lock send transaction")
		}
		if tx.Status != domain.TxStatusPending {
			out = tx
			return nil
		}
		// Nothing was debited before the call, so there is nothing to refund.
		if err := transitionTransactionState(ctx, qtx, s.audit, tx.ID, tx.Status, transition{
			next:     domain.TxStatusFailed,
			action:   "onchain_failed",
			metadata: metadata,
		}); err != nil {
			return err
		}
		out, err = qtx.GetTransaction(ctx, tx.ID)
		return err
	})
	if err != nil {
		zap.L().Error("failed to record on-chain send failure", zap.String("transaction_id", transactionID.String()), zap.Error(err))
		return nil, fmt.Errorf("record failed send %s: %w", transactionID, err)
	}

	observability.IncrementOperation(domain.TxKindOnchainSend, "failed")
	zap.L().Warn("on-chain send failed", zap.String("transaction_id", transactionID.String()), zap.Error(cause))
	return &out, fmt.Errorf("%w: %v", ErrTransferFailed, cause)
}

func (s *LifecycleService) recordSettlementRef(ctx context.Context, transactionID uuid.UUID, settlementRef string) {
	if settlementRef == "" {
		return
	}
	ref := settlementRef
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		tx, err := qtx.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if tx.Status != domain.TxStatusPending {
			return nil
		}
		_, err = qtx.UpdateTransactionStatus(ctx, repository.UpdateTransactionStatusParams{
			ID:            transactionID,
			Status:        domain.TxStatusPending,
			SettlementRef: &ref,
		})
		return err
	})
	if err != nil {
		zap.L().Error("fallback settlement ref write failed", zap.String("transaction_id", transactionID.String()), zap.Error(err))
	}
}

// marshalSendMetadata is used by operator resolutions.
func marshalSendMetadata(reason string, settlementRef *string) ([]byte, error) {
	meta := map[string]string{"reason": reason}
	if settlementRef != nil {
		meta["settlement_ref"] = *settlementRef
	}
	return json.Marshal(meta)
}
