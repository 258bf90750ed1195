package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/observability"
	"github.com/ayo6706/ramp-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	ReasonMissingID           = "missing_id"
	ReasonTransactionNotFound = "transaction_not_found"
	ReasonUnhandled           = "unhandled_status_or_type"
)

// EventResult reports what a confirmation event did. Processed is true for
// both fresh transitions and duplicates of an already terminal transaction.
type EventResult struct {
	Processed     bool       `json:"processed"`
	Reason        string     `json:"reason,omitempty"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	NewStatus     string     `json:"new_status,omitempty"`
	Duplicate     bool       `json:"duplicate,omitempty"`
}

// ReconciliationService applies asynchronous confirmation events. It is the
// only path that moves a DEPOSIT_IN or WITHDRAW_OUT out of PENDING, whether
// the event came from a webhook, the simulation endpoint or the payout worker.
type ReconciliationService struct {
	store QueryStore
	audit *AuditService
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{
		store: store,
		audit: NewAuditService(store),
	}
}

// HandleEvent matches externalID to a transaction by external reference or
// by id and applies rawStatus exactly once. Lookup misses and unrecognized
// statuses are results, not errors; an error means nothing was committed and
// the event may be retried.
func (s *ReconciliationService) HandleEvent(ctx context.Context, externalID, rawStatus string) (*EventResult, error) {
	return s.handleEvent(ctx, externalID, rawStatus, eventOrigin{})
}

// eventOrigin describes an event raised by an operator rather than a provider.
type eventOrigin struct {
	actorID *uuid.UUID
	// accept vets the locked transaction; a non-nil error aborts the event
	// and is returned to the caller as is.
	accept   func(models.Transaction) error
	metadata map[string]string
}

func (s *ReconciliationService) handleEvent(ctx context.Context, externalID, rawStatus string, origin eventOrigin) (*EventResult, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		observability.IncrementReconciliation(ReasonMissingID)
		zap.L().Warn("confirmation event without id", zap.String("status", rawStatus))
		return &EventResult{Reason: ReasonMissingID}, nil
	}

	outcome := domain.NormalizeEventStatus(rawStatus)
	fields := map[string]string{
		"external_id": externalID,
		"raw_status":  rawStatus,
	}
	for k, v := range origin.metadata {
		fields[k] = v
	}
	metadata, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode event metadata: %w", err)
	}

	var (
		result   EventResult
		rejected error
	)
	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		result = EventResult{}

		// The terminal check below must see the locked row, or two
		// deliveries could both observe PENDING.
		tx, err := qtx.GetTransactionByRefForUpdate(ctx, externalID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				result.Reason = ReasonTransactionNotFound
				return nil
			}
			return fmt.Errorf("lock transaction by ref: %w", err)
		}
		id := tx.ID
		result.TransactionID = &id

		if origin.accept != nil {
			if err := origin.accept(tx); err != nil {
				rejected = err
				return err
			}
		}

		if domain.IsTerminal(tx.Status) {
			result.Processed = true
			result.Duplicate = true
			result.NewStatus = tx.Status
			return nil
		}

		next, err := s.apply(ctx, qtx, tx, outcome, metadata, origin.actorID)
		if err != nil {
			return err
		}
		if next == "" {
			result.Reason = ReasonUnhandled
			return nil
		}
		result.Processed = true
		result.NewStatus = next
		return nil
	})
	if err != nil {
		if rejected != nil && errors.Is(err, rejected) {
			observability.IncrementReconciliation("rejected")
		} else {
			observability.IncrementReconciliation("error")
		}
		return nil, err
	}

	logFields := []zap.Field{
		zap.String("external_id", externalID),
		zap.String("raw_status", rawStatus),
		zap.String("outcome", string(outcome)),
	}
	if result.TransactionID != nil {
		logFields = append(logFields, zap.String("transaction_id", result.TransactionID.String()))
	}
	if origin.actorID != nil {
		logFields = append(logFields, zap.String("actor_id", origin.actorID.String()))
	}
	switch {
	case result.Duplicate:
		observability.IncrementReconciliation("duplicate")
		zap.L().Info("confirmation event for terminal transaction ignored", append(logFields, zap.String("status", result.NewStatus))...)
	case result.Processed:
		observability.IncrementReconciliation("applied")
		zap.L().Info("confirmation event applied", append(logFields, zap.String("status", result.NewStatus))...)
	default:
		observability.IncrementReconciliation(result.Reason)
		zap.L().Warn("confirmation event not processed", append(logFields, zap.String("reason", result.Reason))...)
	}
	return &result, nil
}

// apply runs the (kind, outcome) dispatch on a locked PENDING transaction and
// returns the new status, or "" when the combination is not handled.
func (s *ReconciliationService) apply(ctx context.Context, qtx repository.Querier, tx models.Transaction, outcome domain.EventOutcome, metadata []byte, actorID *uuid.UUID) (string, error) {
	switch {
	case tx.Kind == domain.TxKindDepositIn && outcome == domain.OutcomeSuccess:
		if _, err := applyDelta(ctx, qtx, tx.AccountID, tx.Amount, 0); err != nil {
			return "", err
		}
		return domain.TxStatusCompleted, transitionTransactionState(ctx, qtx, s.audit, tx.ID, tx.Status, transition{
			next:     domain.TxStatusCompleted,
			action:   "deposit_confirmed",
			actorID:  actorID,
			metadata: metadata,
		})

	case tx.Kind == domain.TxKindWithdrawOut && outcome == domain.OutcomeSuccess:
		// Debited when the withdrawal was accepted.
		return domain.TxStatusCompleted, transitionTransactionState(ctx, qtx, s.audit, tx.ID, tx.Status, transition{
			next:     domain.TxStatusCompleted,
			action:   "withdraw_confirmed",
			actorID:  actorID,
			metadata: metadata,
		})

	case tx.Kind == domain.TxKindWithdrawOut && outcome == domain.OutcomeFailure:
		if _, err := applyDelta(ctx, qtx, tx.AccountID, tx.Amount, 0); err != nil {
			return "", err
		}
		return domain.TxStatusFailed, transitionTransactionState(ctx, qtx, s.audit, tx.ID, tx.Status, transition{
			next:     domain.TxStatusFailed,
			action:   "withdraw_failed_refunded",
			actorID:  actorID,
			metadata: metadata,
		})
	}
	return "", nil
}

// Event is a confirmation event reduced to the two fields reconciliation uses.
type Event struct {
	ID     string
	Status string
}

var (
	eventIDFields     = []string{"id", "txid", "pixId"}
	eventStatusFields = []string{"status", "event"}
)

// ParseEvent extracts the id and status from a provider payload. The first
// present field wins: id, txid, pixId, then the same names under "data".
// Status comes from status or event, top level first.
func ParseEvent(payload []byte) (Event, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(payload, &body); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	var nested map[string]json.RawMessage
	if raw, ok := body["data"]; ok {
		_ = json.Unmarshal(raw, &nested)
	}

	return Event{
		ID:     firstField(eventIDFields, body, nested),
		Status: firstField(eventStatusFields, body, nested),
	}, nil
}

func firstField(names []string, objects ...map[string]json.RawMessage) string {
	for _, obj := range objects {
		for _, name := range names {
			if v := scalarString(obj[name]); v != "" {
				return v
			}
		}
	}
	return ""
}

func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if _, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return n.String()
		}
	}
	return ""
}
