package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileDrifts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quantumtasks",
		Subsystem: "reconciliation",
		Name:      "ledger_drifts",
		Help:      "Number of accounts with balance != event sum in the last run.",
	})

	reconcileStuckInvocations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quantumtasks",
		Subsystem: "reconciliation",
		Name:      "stuck_invocations",
		Help:      "Number of stuck processing invocations swept in the last run.",
	})

	reconcileUnbilled = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quantumtasks",
		Subsystem: "reconciliation",
		Name:      "unbilled_invocations",
		Help:      "Number of completed invocations without a debit event in the last run.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "quantumtasks",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quantumtasks",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation check errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileDrifts,
		reconcileStuckInvocations,
		reconcileUnbilled,
		reconcileDuration,
		reconcileErrors,
	)
}
