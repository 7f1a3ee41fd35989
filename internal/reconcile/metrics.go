package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRunsTotal        = "reconcile_runs_total"
	MetricRunErrors        = "reconcile_run_errors_total"
	MetricRunDuration      = "reconcile_run_duration_seconds"
	MetricObjectsChecked   = "reconcile_last_objects_checked"
	MetricOrphansFound     = "reconcile_orphans_found_total"
	MetricMissedEvents     = "reconcile_missed_events_total"
	MetricRepairsApplied   = "reconcile_repairs_applied_total"
	MetricMismatchesFound  = "reconcile_state_mismatches_total"
	MetricLastRunTimestamp = "reconcile_last_run_timestamp"
)

// Metrics contains Prometheus metrics for reconciliation runs.
// All operations are thread-safe.
type Metrics struct {
	runsTotal        prometheus.Counter
	runErrors        prometheus.Counter
	runDuration      prometheus.Histogram
	objectsChecked   prometheus.Gauge
	orphansFound     prometheus.Counter
	missedEvents     prometheus.Counter
	repairsApplied   prometheus.Counter
	mismatchesFound  prometheus.Counter
	lastRunTimestamp prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRunsTotal,
			Help: "Total number of reconciliation runs",
		}),
		runErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRunErrors,
			Help: "Total number of reconciliation runs that failed",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRunDuration,
			Help:    "Histogram of reconciliation run duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		}),
		objectsChecked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricObjectsChecked,
			Help: "Number of processor objects checked in the last run",
		}),
		orphansFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricOrphansFound,
			Help: "Total number of processor objects with no ledger entry",
		}),
		missedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricMissedEvents,
			Help: "Total number of processor feed events never applied as evidence",
		}),
		repairsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRepairsApplied,
			Help: "Total number of ledger states repaired from processor truth",
		}),
		mismatchesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricMismatchesFound,
			Help: "Total number of unrepairable ledger/processor state mismatches",
		}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastRunTimestamp,
			Help: "Unix timestamp of the last reconciliation run",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.runsTotal,
		m.runErrors,
		m.runDuration,
		m.objectsChecked,
		m.orphansFound,
		m.missedEvents,
		m.repairsApplied,
		m.mismatchesFound,
		m.lastRunTimestamp,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
