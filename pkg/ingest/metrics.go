package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agentstation/kstartup/pkg/records"
)

// Metrics are the Prometheus collectors of the controller.
type Metrics struct {
	runs       *prometheus.CounterVec
	records    *prometheus.CounterVec
	pages      *prometheus.CounterVec
	mismatches *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
}

// NewMetrics registers the collectors with reg. A nil reg creates
// unregistered collectors, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kstartup_runs_total",
				Help: "Ingestion runs by terminal state",
			},
			[]string{"source", "state"},
		),
		records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kstartup_records_total",
				Help: "Records by ingestion outcome",
			},
			[]string{"source", "outcome"},
		),
		pages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kstartup_pages_fetched_total",
				Help: "Upstream pages fetched",
			},
			[]string{"source"},
		),
		mismatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kstartup_classification_mismatches_total",
				Help: "Classification values not found in the taxonomy",
			},
			[]string{"source", "field"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kstartup_run_duration_seconds",
				Help:    "Duration of ingestion runs",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
			},
			[]string{"source", "state"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kstartup_runs_in_flight",
				Help: "Ingestion runs currently active",
			},
		),
	}
}

func (m *Metrics) runStarted() {
	m.inFlight.Inc()
}

func (m *Metrics) runFinished(run records.Run) {
	m.inFlight.Dec()
	state := string(run.State)
	m.runs.WithLabelValues(run.SourceID, state).Inc()
	m.duration.WithLabelValues(run.SourceID, state).Observe(run.Duration().Seconds())
	m.pages.WithLabelValues(run.SourceID).Add(float64(run.PagesFetched))

	for outcome, n := range map[string]int{
		"inserted":           run.RecordsInserted,
		"updated":            run.RecordsUpdated,
		"skipped_unchanged":  run.RecordsSkippedUnchanged,
		"failed_validation":  run.RecordsFailedValidation,
		"superseded":         run.RecordsSuperseded,
		"failed_persistence": run.RecordsFailedPersistence,
		"conflicted":         run.RecordsConflicted,
		"abandoned":          run.RecordsAbandoned,
	} {
		if n > 0 {
			m.records.WithLabelValues(run.SourceID, outcome).Add(float64(n))
		}
	}
}

func (m *Metrics) mismatch(source, field string) {
	m.mismatches.WithLabelValues(source, field).Inc()
}
