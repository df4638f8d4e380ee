package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "automata_engine"

// Метрики блокировок.
var (
	LockWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "lock",
		Name:      "wait_seconds",
		Help:      "Time spent waiting to acquire a lock.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"tenant", "object_type"})

	LockTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lock",
		Name:      "timeouts_total",
		Help:      "Lock acquisitions that timed out.",
	}, []string{"tenant", "object_type"})

	LockAnomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lock",
		Name:      "anomalies_total",
		Help:      "Release calls on nil, released or foreign lock handles.",
	}, []string{"reason"})
)

// Метрики транзакций.
var (
	TxAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tx",
		Name:      "attempts_total",
		Help:      "Transaction attempts started by the retry runner.",
	})

	TxConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tx",
		Name:      "conflicts_total",
		Help:      "Attempts rolled back because of a retryable conflict.",
	})

	TxExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tx",
		Name:      "retries_exhausted_total",
		Help:      "Units of work that failed after all retries.",
	})
)

// Метрики recovery.
var (
	ConnectorResetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recovery",
		Name:      "connector_resets_total",
		Help:      "Connector instances reset from FAILED, by target state.",
	}, []string{"tenant", "target"})

	RecoveryFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recovery",
		Name:      "failures_total",
		Help:      "Flow node resets that ended with an activity execution error.",
	}, []string{"tenant"})
)

// Метрики планировщика работ.
var (
	SchedulerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "state",
		Help:      "Tenant execution state: 0 stopped, 1 running, 2 stopping.",
	}, []string{"tenant"})

	WorkInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "work_in_flight",
		Help:      "Work items currently executing.",
	}, []string{"tenant"})

	WorkProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "work_processed_total",
		Help:      "Work items processed, by type and result.",
	}, []string{"tenant", "type", "result"})
)

// TenantLabel форматирует tenant ID для label.
func TenantLabel(tenantID int64) string {
	return strconv.FormatInt(tenantID, 10)
}
