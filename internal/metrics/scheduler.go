package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SchedulerCycles tracks Registrar.Execute invocations.
	SchedulerCycles = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Total number of scheduler execute cycles",
		},
	)

	// SchedulerDelegatesExecuted tracks the reported-executed count summed
	// across all delegates per cycle.
	SchedulerDelegatesExecuted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "delegates_executed_total",
			Help:      "Total number of delegate execution units reported complete",
		},
	)

	// SchedulerCycleErrors tracks aborted cycles by delegate identifier.
	SchedulerCycleErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycle_errors_total",
			Help:      "Total number of cycles aborted by a delegate error",
		},
		[]string{"delegate"},
	)

	// SchedulerCycleDuration tracks Execute's wall-clock cost.
	SchedulerCycleDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Execute cycle duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)
)
