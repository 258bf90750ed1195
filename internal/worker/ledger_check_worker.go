package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/ramp-ledger/internal/observability"
	"github.com/ayo6706/ramp-ledger/internal/service"
	"go.uber.org/zap"
)

// LedgerCheckWorker periodically compares stored balances with transaction
// history.
type LedgerCheckWorker struct {
	svc      *service.LedgerCheckService
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLedgerCheckWorker constructs a worker with a default hourly interval.
func NewLedgerCheckWorker(svc *service.LedgerCheckService) *LedgerCheckWorker {
	return &LedgerCheckWorker{
		svc:      svc,
		interval: time.Hour,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *LedgerCheckWorker) WithInterval(interval time.Duration) *LedgerCheckWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and runs the check at the configured interval.
func (w *LedgerCheckWorker) Start(ctx context.Context) {
	zap.L().Info("ledger check worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately at startup.
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("ledger check worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("ledger check worker stop signal received")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *LedgerCheckWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *LedgerCheckWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// RunOnce performs one check and returns the number of drifting accounts.
func (w *LedgerCheckWorker) RunOnce(ctx context.Context) int {
	drifts, err := w.svc.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("ledger_check", "failed")
		zap.L().Error("ledger check failed", zap.Error(err))
		return 0
	}
	if len(drifts) > 0 {
		observability.IncrementWorkerRun("ledger_check", "drift")
	} else {
		observability.IncrementWorkerRun("ledger_check", "success")
	}
	return len(drifts)
}
