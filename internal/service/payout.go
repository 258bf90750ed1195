package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/ramp-ledger/internal/gateway"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	payoutPersistTimeout = 15 * time.Second
	reportAttempts       = 3
)

// PayoutService performs the asynchronous leg of withdrawals. Outcomes are fed
// back through ReconciliationService.HandleEvent so there is a single code path
// for the PENDING to terminal transition.
type PayoutService struct {
	store      QueryStore
	gateway    gateway.PaymentGateway
	reconciler *ReconciliationService
	timeout    time.Duration
	backoff    time.Duration

	mu sync.Mutex
	// unreported holds outcomes the provider gave us but the ledger has
	// not recorded yet, keyed by transaction id.
	unreported map[uuid.UUID]payoutOutcome
}

type payoutOutcome struct {
	ref    string
	status string
}

func NewPayoutService(store QueryStore, gw gateway.PaymentGateway, reconciler *ReconciliationService) *PayoutService {
	return &PayoutService{
		store:      store,
		gateway:    gw,
		reconciler: reconciler,
		timeout:    defaultExternalCallTimeout,
		backoff:    200 * time.Millisecond,
		unreported: make(map[uuid.UUID]payoutOutcome),
	}
}

// SetCallTimeout bounds each gateway payout call.
func (s *PayoutService) SetCallTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// ProcessPayouts first re-applies outcomes that previously failed to persist,
// then claims up to batchSize undispatched withdrawals and pays them out
// concurrently. It returns the number claimed.
func (s *PayoutService) ProcessPayouts(ctx context.Context, batchSize int32) (int, error) {
	s.flushUnreported(ctx)

	claimed, err := s.store.Queries().ClaimPendingWithdrawals(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim pending withdrawals: %w", err)
	}

	var wg sync.WaitGroup
	for _, tx := range claimed {
		wg.Add(1)
		go func(tx models.Transaction) {
			defer wg.Done()
			s.dispatch(ctx, tx)
		}(tx)
	}
	wg.Wait()
	return len(claimed), nil
}

func (s *PayoutService) dispatch(ctx context.Context, tx models.Transaction) {
	logger := zap.L().With(zap.String("transaction_id", tx.ID.String()))
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), payoutPersistTimeout)
	defer cancel()

	if ctx.Err() != nil {
		s.releaseClaim(persistCtx, tx, logger)
		return
	}
	if tx.Destination == nil || *tx.Destination == "" {
		logger.Error("withdrawal has no payout key, failing it")
		s.report(persistCtx, tx.ID, tx.ID.String(), "failed", logger)
		return
	}

	callCtx, callCancel := context.WithTimeout(ctx, s.timeout)
	res, err := s.gateway.Payout(callCtx, tx.AccountID.String(), tx.Amount, *tx.Destination)
	callCancel()

	switch {
	case err == nil:
		ref := tx.ID.String()
		if res.ExternalID != "" {
			if _, setErr := s.store.Queries().SetTransactionExternalRef(persistCtx, repository.SetTransactionExternalRefParams{
				ID:          tx.ID,
				ExternalRef: res.ExternalID,
			}); setErr != nil {
				logger.Error("failed to record payout id", zap.String("external_id", res.ExternalID), zap.Error(setErr))
			} else {
				ref = res.ExternalID
			}
		}
		s.report(persistCtx, tx.ID, ref, "completed", logger)

	case errors.Is(err, gateway.ErrNotDispatched):
		s.releaseClaim(persistCtx, tx, logger)

	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		// The provider may or may not have acted. The claim stays so the
		// withdrawal is not paid twice; an operator settles it through
		// ResolutionService.ResolveClaimedWithdrawal.
		logger.Warn("payout outcome unknown, leaving withdrawal claimed for operator review", zap.Error(err))

	default:
		logger.Warn("payout rejected", zap.Error(err))
		s.report(persistCtx, tx.ID, tx.ID.String(), "failed", logger)
	}
}

// report feeds a provider outcome into reconciliation. When every attempt
// fails the outcome is queued and retried on the next ProcessPayouts, since
// the row stays claimed and nothing else would apply it.
func (s *PayoutService) report(ctx context.Context, txID uuid.UUID, ref, status string, logger *zap.Logger) {
	if err := s.applyOutcome(ctx, ref, status); err != nil {
		logger.Error("failed to apply payout outcome, queued for retry", zap.String("status", status), zap.Error(err))
		s.mu.Lock()
		s.unreported[txID] = payoutOutcome{ref: ref, status: status}
		s.mu.Unlock()
	}
}

func (s *PayoutService) applyOutcome(ctx context.Context, ref, status string) error {
	var err error
	wait := s.backoff
	for attempt := 1; attempt <= reportAttempts; attempt++ {
		if _, err = s.reconciler.HandleEvent(ctx, ref, status); err == nil {
			return nil
		}
		if attempt == reportAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}

func (s *PayoutService) flushUnreported(ctx context.Context) {
	s.mu.Lock()
	pending := make(map[uuid.UUID]payoutOutcome, len(s.unreported))
	for id, o := range s.unreported {
		pending[id] = o
	}
	s.mu.Unlock()

	for id, o := range pending {
		logger := zap.L().With(zap.String("transaction_id", id.String()))
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), payoutPersistTimeout)
		err := s.applyOutcome(persistCtx, o.ref, o.status)
		cancel()
		if err != nil {
			logger.Warn("queued payout outcome still not applied", zap.String("status", o.status), zap.Error(err))
			continue
		}
		s.mu.Lock()
		delete(s.unreported, id)
		s.mu.Unlock()
		logger.Info("queued payout outcome applied", zap.String("status", o.status))
	}
}

// Unreported returns how many payout outcomes are waiting to be re-applied.
func (s *PayoutService) Unreported() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unreported)
}

func (s *PayoutService) releaseClaim(ctx context.Context, tx models.Transaction, logger *zap.Logger) {
	if _, err := s.store.Queries().ReleaseWithdrawalClaim(ctx, tx.ID); err != nil {
		logger.Error("failed to release withdrawal claim", zap.Error(err))
		return
	}
	logger.Info("withdrawal claim released")
}
