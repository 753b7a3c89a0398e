package keeper

// Prometheus metrics for the keeper engine.
// Registered in init() and served at /metrics by the API router.

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxDiscovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keeper_plans_discovered_total",
			Help: "Plan ids enqueued for execution",
		},
		[]string{"channel"}, // push | poll
	)

	mtxExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keeper_executions_total",
			Help: "Orchestrator outcomes per attempt",
		},
		[]string{"outcome"},
	)

	mtxRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keeper_retries_total",
			Help: "Failed attempts that consumed retry budget",
		},
	)

	mtxQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keeper_queue_depth",
			Help: "Plans currently waiting in the execution queue",
		},
	)

	mtxTradesRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keeper_trades_recorded_total",
			Help: "Trade records inserted (idempotent writes that hit)",
		},
	)

	mtxConfirmSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keeper_confirmation_seconds",
			Help:    "Seconds spent waiting for ledger finality",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s .. 128s
		},
	)
)

// Outcome labels for keeper_executions_total.
const (
	outcomeNotFound       = "not_found"
	outcomeCompleted      = "completed"
	outcomeTriggerNotMet  = "trigger_not_met"
	outcomeObserveOnly    = "observe_only"
	outcomeSubmitFailed   = "submit_failed"
	outcomeTriggerError   = "trigger_error"
	outcomeConfirmTimeout = "confirm_timeout"
	outcomeFailedTerminal = "failed_terminal"
	outcomeExecuted       = "executed"
)

func init() {
	prometheus.MustRegister(
		mtxDiscovered,
		mtxExecutions,
		mtxRetries,
		mtxQueueDepth,
		mtxTradesRecorded,
		mtxConfirmSeconds,
	)
}
