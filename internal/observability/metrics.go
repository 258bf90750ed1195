package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	balanceDriftCounter   *prometheus.CounterVec
	idempotencyCounter    *prometheus.CounterVec
	heldSendsGauge        prometheus.Gauge
	resolutionCounter     *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
	reconcileCounter      *prometheus.CounterVec
	operationCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		balanceDriftCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_balance_drift_total",
			Help: "Accounts whose stored balance differs from their transaction history",
		}, []string{"currency"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		heldSendsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "onchain_sends_held",
			Help: "On-chain sends debited but waiting for an operator decision",
		})

		resolutionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onchain_send_resolutions_total",
			Help: "Held on-chain sends queued and resolved",
		}, []string{"action"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		reconcileCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciliation_events_total",
			Help: "Confirmation events by result",
		}, []string{"result"})

		operationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Lifecycle operations by kind and outcome",
		}, []string{"kind", "outcome"})

		prometheus.MustRegister(
			httpDurationHistogram,
			balanceDriftCounter,
			idempotencyCounter,
			heldSendsGauge,
			resolutionCounter,
			workerRunCounter,
			reconcileCounter,
			operationCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementBalanceDrift(currency string) {
	if balanceDriftCounter == nil {
		return
	}
	balanceDriftCounter.WithLabelValues(currency).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func SetHeldSends(size int64) {
	if heldSendsGauge == nil {
		return
	}
	heldSendsGauge.Set(float64(size))
}

func IncrementSendResolution(action string) {
	if resolutionCounter == nil {
		return
	}
	resolutionCounter.WithLabelValues(action).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementReconciliation(result string) {
	if reconcileCounter == nil {
		return
	}
	reconcileCounter.WithLabelValues(result).Inc()
}

func IncrementOperation(kind, outcome string) {
	if operationCounter == nil {
		return
	}
	operationCounter.WithLabelValues(kind, outcome).Inc()
}
