package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/observability"
	"github.com/ayo6706/ramp-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSendNotPending          = errors.New("transaction is not a pending on-chain send")
	ErrWithdrawalNotClaimed    = errors.New("transaction is not a dispatched pending withdrawal")
	ErrInvalidResolutionChoice = errors.New("invalid resolution decision")
)

type ResolutionDecision string

const (
	DecisionConfirmSent  ResolutionDecision = "confirm_sent"
	DecisionConfirmPaid  ResolutionDecision = "confirm_paid"
	DecisionRefundFailed ResolutionDecision = "refund_failed"
)

func normalizeDecision(d ResolutionDecision) ResolutionDecision {
	return ResolutionDecision(strings.ToLower(strings.TrimSpace(string(d))))
}

type ResolveSendRequest struct {
	TransactionID uuid.UUID
	Decision      ResolutionDecision
	Reason        string
	ActorID       *uuid.UUID
	// SettlementRef overrides the stored hash on confirm_sent.
	SettlementRef *string
}

type ResolveWithdrawalRequest struct {
	TransactionID uuid.UUID
	Decision      ResolutionDecision
	Reason        string
	ActorID       *uuid.UUID
}

// ResolutionService lets an operator finish on-chain sends and withdrawal
// payouts whose outcome the system could not observe.
type ResolutionService struct {
	store      QueryStore
	audit      *AuditService
	reconciler *ReconciliationService
}

func NewResolutionService(store QueryStore, reconciler *ReconciliationService) *ResolutionService {
	return &ResolutionService{
		store:      store,
		audit:      NewAuditService(store),
		reconciler: reconciler,
	}
}

// ResolvePendingSend finalizes a PENDING ONCHAIN_SEND. A held send (already
// debited) is completed as is or refunded; a send that was never debited is
// debited on confirm and simply failed on refund.
func (s *ResolutionService) ResolvePendingSend(ctx context.Context, req ResolveSendRequest) (*models.Transaction, error) {
	decision := normalizeDecision(req.Decision)
	switch decision {
	case DecisionConfirmSent, DecisionRefundFailed:
	default:
		return nil, ErrInvalidResolutionChoice
	}
	metadata, err := marshalSendMetadata(req.Reason, req.SettlementRef)
	if err != nil {
		return nil, fmt.Errorf("marshal resolution metadata: %w", err)
	}

	var out models.Transaction
	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		tx, err := qtx.GetTransactionForUpdate(ctx, req.TransactionID)
		if err != nil {
			return transactionLookupError(err, "lock send transaction")
		}
		if tx.Kind != domain.TxKindOnchainSend || tx.Status != domain.TxStatusPending {
			return ErrSendNotPending
		}
		held := tx.DispatchedAt != nil

		switch decision {
		case DecisionConfirmSent:
			if !held {
				if _, err := applyDelta(ctx, qtx, tx.AccountID, 0, -tx.Amount); err != nil {
					return err
				}
			}
			if err := transitionTransactionState(ctx, qtx, s.audit, tx.ID, tx.Status, transition{
				next:          domain.TxStatusCompleted,
				settlementRef: req.SettlementRef,
				actorID:       req.ActorID,
				action:        "send_resolved_confirm_sent",
				metadata:      metadata,
			}); err != nil {
				return err
			}
		case DecisionRefundFailed:
			if held {
				if _, err := applyDelta(ctx, qtx, tx.AccountID, 0, tx.Amount); err != nil {
					return err
				}
			}
			if err := transitionTransactionState(ctx, qtx, s.audit, tx.ID, tx.Status, transition{
				next:     domain.TxStatusFailed,
				actorID:  req.ActorID,
				action:   "send_resolved_refund_failed",
				metadata: metadata,
			}); err != nil {
				return err
			}
		}

		out, err = qtx.GetTransaction(ctx, tx.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	observability.IncrementSendResolution(string(decision))
	zap.L().Info("on-chain send resolved",
		zap.String("transaction_id", req.TransactionID.String()),
		zap.String("decision", string(decision)),
	)
	return &out, nil
}

// ResolveClaimedWithdrawal settles a WITHDRAW_OUT whose payout call ended
// without a definite answer. The decision enters the reconciler as a
// completed or failed event, so the refund rules live in one place.
func (s *ResolutionService) ResolveClaimedWithdrawal(ctx context.Context, req ResolveWithdrawalRequest) (*models.Transaction, error) {
	decision := normalizeDecision(req.Decision)
	var status string
	switch decision {
	case DecisionConfirmPaid:
		status = "completed"
	case DecisionRefundFailed:
		status = "failed"
	default:
		return nil, ErrInvalidResolutionChoice
	}

	res, err := s.reconciler.handleEvent(ctx, req.TransactionID.String(), status, eventOrigin{
		actorID: req.ActorID,
		accept: func(tx models.Transaction) error {
			if tx.Kind != domain.TxKindWithdrawOut || tx.Status != domain.TxStatusPending || tx.DispatchedAt == nil {
				return ErrWithdrawalNotClaimed
			}
			return nil
		},
		metadata: map[string]string{
			"decision": string(decision),
			"reason":   req.Reason,
		},
	})
	if err != nil {
		return nil, err
	}
	if !res.Processed {
		if res.Reason == ReasonTransactionNotFound {
			return nil, models.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("withdrawal resolution not applied: %s", res.Reason)
	}

	out, err := s.store.Queries().GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, transactionLookupError(err, "load resolved withdrawal")
	}
	observability.IncrementSendResolution("withdrawal_" + string(decision))
	zap.L().Info("withdrawal resolved",
		zap.String("transaction_id", req.TransactionID.String()),
		zap.String("decision", string(decision)),
	)
	return &out, nil
}

// ListHeldSends returns on-chain sends debited while their outcome is unknown.
func (s *ResolutionService) ListHeldSends(ctx context.Context) ([]models.Transaction, error) {
	return listDispatchedPending(ctx, s.store.Queries(), domain.TxKindOnchainSend)
}

// ListClaimedWithdrawals returns withdrawals handed to the payout provider
// that have no terminal outcome yet. Rows whose call is still in flight are
// included; dispatched_at tells them apart.
func (s *ResolutionService) ListClaimedWithdrawals(ctx context.Context) ([]models.Transaction, error) {
	return listDispatchedPending(ctx, s.store.Queries(), domain.TxKindWithdrawOut)
}

func listDispatchedPending(ctx context.Context, q repository.Querier, kind string) ([]models.Transaction, error) {
	const pageSize = 200
	var out []models.Transaction
	for offset := int32(0); ; offset += pageSize {
		page, err := q.ListTransactions(ctx, repository.ListTransactionsParams{
			Status: domain.TxStatusPending,
			Kind:   kind,
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("list pending %s: %w", strings.ToLower(kind), err)
		}
		for _, tx := range page {
			if tx.DispatchedAt != nil {
				out = append(out, tx)
			}
		}
		if len(page) < pageSize {
			return out, nil
		}
	}
}
