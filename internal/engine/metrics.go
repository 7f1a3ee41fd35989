package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricEventsProcessedTotal = "engine_events_processed_total"
	MetricEventsRejectedTotal  = "engine_events_rejected_total"
	MetricPaymentsCreatedTotal = "engine_payments_created_total"
	MetricPaymentsBlockedTotal = "engine_payments_blocked_total"
	MetricEventApplyDuration   = "engine_event_apply_duration_seconds"
)

// Rejection reason label values.
const (
	ReasonDuplicate    = "duplicate"
	ReasonSystemLocked = "system_locked"
	ReasonThrottled    = "throttled"
	ReasonOutOfOrder   = "out_of_order"
	ReasonUnknownEvent = "unknown_event"
	ReasonPolicy       = "policy"
	ReasonAlreadyPaid  = "already_paid"
	ReasonError        = "error"
)

// Metrics contains Prometheus metrics for the coordination engine.
// All operations are thread-safe.
type Metrics struct {
	eventsProcessed prometheus.Counter
	eventsRejected  *prometheus.CounterVec
	paymentsCreated prometheus.Counter
	paymentsBlocked *prometheus.CounterVec
	applyDuration   prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEventsProcessedTotal,
			Help: "Total number of processor events applied to the ledger",
		}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsRejectedTotal,
			Help: "Total number of processor events rejected, by reason",
		}, []string{"reason"}),
		paymentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPaymentsCreatedTotal,
			Help: "Total number of payment attempts created",
		}),
		paymentsBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPaymentsBlockedTotal,
			Help: "Total number of payment commands blocked, by reason",
		}, []string{"reason"}),
		applyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricEventApplyDuration,
			Help:    "Histogram of event application duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.eventsProcessed,
		m.eventsRejected,
		m.paymentsCreated,
		m.paymentsBlocked,
		m.applyDuration,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncEventsProcessed increments the processed-event counter.
func (m *Metrics) IncEventsProcessed() {
	m.eventsProcessed.Inc()
}

// IncEventsRejected increments the rejected-event counter for a reason.
func (m *Metrics) IncEventsRejected(reason string) {
	m.eventsRejected.WithLabelValues(reason).Inc()
}

// IncPaymentsCreated increments the payments-created counter.
func (m *Metrics) IncPaymentsCreated() {
	m.paymentsCreated.Inc()
}

// IncPaymentsBlocked increments the payments-blocked counter for a reason.
func (m *Metrics) IncPaymentsBlocked(reason string) {
	m.paymentsBlocked.WithLabelValues(reason).Inc()
}

// ObserveApplyDuration records one event application duration.
func (m *Metrics) ObserveApplyDuration(seconds float64) {
	m.applyDuration.Observe(seconds)
}
