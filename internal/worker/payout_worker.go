package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/ramp-ledger/internal/observability"
	"github.com/ayo6706/ramp-ledger/internal/service"
	"go.uber.org/zap"
)

// PayoutWorker pays out accepted withdrawals in the background. It polls at a
// fixed interval and also wakes up as soon as Notify is called, so a fresh
// withdrawal does not wait a full interval. Concurrent instances are safe
// because claims use FOR UPDATE SKIP LOCKED.
type PayoutWorker struct {
	payoutService *service.PayoutService
	pollInterval  time.Duration
	batchSize     int32
	nudge         chan struct{}
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewPayoutWorker creates a new PayoutWorker instance.
func NewPayoutWorker(payoutSvc *service.PayoutService) *PayoutWorker {
	return &PayoutWorker{
		payoutService: payoutSvc,
		pollInterval:  10 * time.Second,
		batchSize:     10,
		nudge:         make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *PayoutWorker) WithPollInterval(interval time.Duration) *PayoutWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets the batch size for the worker.
func (w *PayoutWorker) WithBatchSize(size int32) *PayoutWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Notify asks for a batch to run soon. It never blocks; nudges that arrive
// while one is already queued collapse into it.
func (w *PayoutWorker) Notify() {
	select {
	case w.nudge <- struct{}{}:
	default:
	}
}

// Start runs the loop until Stop is called or ctx is canceled.
func (w *PayoutWorker) Start(ctx context.Context) {
	zap.L().Info("payout worker starting",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int32("batch_size", w.batchSize),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("payout worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("payout worker stop signal received")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		case <-w.nudge:
			w.processBatch(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *PayoutWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

func (w *PayoutWorker) processBatch(ctx context.Context) {
	// Drain batches until the queue is empty so a burst is not spread over
	// several poll intervals.
	for {
		n, err := w.ProcessOnce(ctx)
		if err != nil || n < int(w.batchSize) || ctx.Err() != nil {
			return
		}
	}
}

// ProcessOnce processes a single batch immediately and returns how many
// withdrawals it claimed.
func (w *PayoutWorker) ProcessOnce(ctx context.Context) (int, error) {
	n, err := w.payoutService.ProcessPayouts(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("payout", "failed")
		zap.L().Error("payout batch failed", zap.Error(err))
		return n, err
	}
	observability.IncrementWorkerRun("payout", "success")
	if n > 0 {
		zap.L().Info("payout batch processed", zap.Int("claimed", n))
	}
	return n, nil
}

// Run starts the worker and returns a function that stops it.
func (w *PayoutWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *PayoutWorker) String() string {
	return fmt.Sprintf("PayoutWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
