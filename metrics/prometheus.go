// Package metrics provides Prometheus metrics for the inventory engine
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger metrics
	ConeTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thread_cone_transitions_total",
			Help: "Cone status changes applied by the ledger",
		},
		[]string{"from", "to"},
	)

	ConesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thread_cones_received_total",
			Help: "Cones inserted by receive operations",
		},
	)

	// Allocation metrics
	AllocationOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thread_allocation_operations_total",
			Help: "Allocation engine operations by outcome",
		},
		[]string{"operation", "result"},
	)

	ReservationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thread_reservation_duration_seconds",
			Help:    "Time spent reserving cones for an allocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ReservationRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thread_reservation_retries_total",
			Help: "Reservations retried after losing a cone to a concurrent writer",
		},
	)

	ConflictsRaisedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thread_allocation_conflicts_raised_total",
			Help: "Shortage conflicts raised by reservations",
		},
	)

	// Batch metrics
	BatchOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thread_batch_operations_total",
			Help: "Batch operations by type and outcome",
		},
		[]string{"operation", "outcome"},
	)

	BatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thread_batch_cones",
			Help:    "Cones touched per batch operation",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"operation"},
	)

	// Recovery metrics
	RecoveryOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thread_recovery_outcomes_total",
			Help: "Recovery workflow steps by outcome",
		},
		[]string{"outcome"},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thread_notifications_total",
			Help: "Notification deliveries by channel and result",
		},
		[]string{"channel", "result"},
	)
)

// RecordAllocationOperation counts an engine call as success or error.
func RecordAllocationOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	AllocationOperationsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveReservation records how long a reservation took.
func ObserveReservation(operation string, start time.Time) {
	ReservationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordBatch counts a batch call and its size.
func RecordBatch(operation string, outcome string, cones int) {
	BatchOperationsTotal.WithLabelValues(operation, outcome).Inc()
	BatchSize.WithLabelValues(operation).Observe(float64(cones))
}
