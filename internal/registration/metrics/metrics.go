package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the registration module.
// Tracks submissions, declines, duplicates, and gateway call durations.
type Metrics struct {
	RegistrantsCreated prometheus.Counter
	CardsDeclined      prometheus.Counter
	DuplicateAttempts  prometheus.Counter
	SubmitDuration     prometheus.Histogram
	GatewayDuration    prometheus.Histogram
}

// New creates a new Metrics instance with all registration module metrics registered.
func New() *Metrics {
	return &Metrics{
		RegistrantsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "confreg_registrants_created_total",
			Help: "Total number of registrants created",
		}),
		CardsDeclined: promauto.NewCounter(prometheus.CounterOpts{
			Name: "confreg_cards_declined_total",
			Help: "Total number of card charges declined by the provider",
		}),
		DuplicateAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "confreg_duplicate_attempts_total",
			Help: "Total number of submissions rejected as duplicates",
		}),
		SubmitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "confreg_submit_duration_seconds",
			Help:    "Duration of Submit operations including the provider call",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		GatewayDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "confreg_gateway_call_duration_seconds",
			Help:    "Duration of payment provider API calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// IncrementRegistrantCreated records a successful registrant creation.
func (m *Metrics) IncrementRegistrantCreated() {
	m.RegistrantsCreated.Inc()
}

// IncrementCardDeclined records a provider-side card decline.
func (m *Metrics) IncrementCardDeclined() {
	m.CardsDeclined.Inc()
}

// IncrementDuplicateAttempt records a submission blocked by the uniqueness rules.
func (m *Metrics) IncrementDuplicateAttempt() {
	m.DuplicateAttempts.Inc()
}

// ObserveSubmit records the duration of a Submit operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveSubmit(start time.Time) {
	m.SubmitDuration.Observe(time.Since(start).Seconds())
}

// ObserveGatewayCall records the duration of one provider API call.
// Call with time.Now() at the start of the call.
func (m *Metrics) ObserveGatewayCall(start time.Time) {
	m.GatewayDuration.Observe(time.Since(start).Seconds())
}
