package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/repository"
	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a status change is not allowed from
// the transaction's current state.
var ErrInvalidTransition = errors.New("invalid transaction state transition")

var transactionTransitions = map[string]map[string]struct{}{
	domain.TxStatusPending: {
		domain.TxStatusCompleted: {},
		domain.TxStatusFailed:    {},
	},
	domain.TxStatusCompleted: {},
	domain.TxStatusFailed:    {},
}

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

func canTransition(current, next string) bool {
	nextStates, ok := transactionTransitions[normalizeState(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[normalizeState(next)]
	return ok
}

type transition struct {
	next          string
	settlementRef *string
	actorID       *uuid.UUID
	action        string
	metadata      []byte
}

// transitionTransactionState moves a locked transaction to t.next and writes
// the audit row. Callers must already hold the row lock via a ForUpdate read.
func transitionTransactionState(ctx context.Context, qtx repository.Querier, audit *AuditService, transactionID uuid.UUID, current string, t transition) error {
	if !canTransition(current, t.next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, t.next)
	}

	rows, err := qtx.UpdateTransactionStatus(ctx, repository.UpdateTransactionStatusParams{
		ID:            transactionID,
		Status:        t.next,
		SettlementRef: t.settlementRef,
	})
	if err != nil {
		return fmt.Errorf("update transaction state: %w", err)
	}
	if err := requireExactlyOne(rows, "update transaction state"); err != nil {
		return err
	}

	return audit.Write(ctx, qtx, domain.AuditEntityTransaction, transactionID, t.actorID, t.action, current, t.next, t.metadata)
}
