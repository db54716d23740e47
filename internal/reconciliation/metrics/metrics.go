package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the reconciliation module.
// Tracks applied transitions, dropped duplicates, and anomalies.
type Metrics struct {
	TransitionsApplied  prometheus.Counter
	NotificationsDupes  prometheus.Counter
	AnomaliesDetected   prometheus.Counter
	PaymentsRecovered   prometheus.Counter
	ApplyStatusDuration prometheus.Histogram
}

// New creates a new Metrics instance with all reconciliation module metrics registered.
func New() *Metrics {
	return &Metrics{
		TransitionsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "confreg_payment_transitions_total",
			Help: "Total number of payment state transitions applied",
		}),
		NotificationsDupes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "confreg_webhook_duplicates_total",
			Help: "Total number of webhook deliveries dropped as duplicates",
		}),
		AnomaliesDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "confreg_payment_anomalies_total",
			Help: "Total number of conflicting terminal-state updates rejected",
		}),
		PaymentsRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "confreg_payments_recovered_total",
			Help: "Total number of payments backfilled from the provider search",
		}),
		ApplyStatusDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "confreg_apply_status_duration_seconds",
			Help:    "Duration of ApplyGatewayStatus operations (webhook critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementTransitionApplied records one applied state transition.
func (m *Metrics) IncrementTransitionApplied() {
	m.TransitionsApplied.Inc()
}

// IncrementNotificationDuplicate records a dropped duplicate delivery.
func (m *Metrics) IncrementNotificationDuplicate() {
	m.NotificationsDupes.Inc()
}

// IncrementAnomalyDetected records a rejected terminal-state conflict.
func (m *Metrics) IncrementAnomalyDetected() {
	m.AnomaliesDetected.Inc()
}

// IncrementPaymentRecovered records one backfilled payment.
func (m *Metrics) IncrementPaymentRecovered() {
	m.PaymentsRecovered.Inc()
}

// ObserveApplyStatus records the duration of an ApplyGatewayStatus call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveApplyStatus(start time.Time) {
	m.ApplyStatusDuration.Observe(time.Since(start).Seconds())
}
