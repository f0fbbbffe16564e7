package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "medallion"

// Row outcomes recorded by RowsTotal.
const (
	OutcomeInserted   = "inserted"
	OutcomeDuplicate  = "duplicate"
	OutcomeValid      = "valid"
	OutcomeWarning    = "warning"
	OutcomeAggregated = "aggregated"
)

// Metrics records pipeline stage timings, row outcomes, run results and
// uploads. A nil *Metrics is valid and records nothing.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	rows          *prometheus.CounterVec
	runs          *prometheus.CounterVec
	uploads       *prometheus.CounterVec
}

// New registers the pipeline metrics on reg. A nil registerer yields a
// Metrics value that discards observations.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage", "status"})
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_total",
		Help:      "Rows handled per layer, by outcome.",
	}, []string{"layer", "outcome"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Pipeline runs by final state.",
	}, []string{"state"})
	uploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Object storage uploads by layer and status.",
	}, []string{"layer", "status"})
	reg.MustRegister(stageDuration, rows, runs, uploads)
	return &Metrics{
		stageDuration: stageDuration,
		rows:          rows,
		runs:          runs,
		uploads:       uploads,
	}
}

// ObserveStage records how long a stage ran and whether it succeeded.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil || m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(normalizeLabel(stage), status(err)).Observe(d.Seconds())
}

// AddRows adds n rows with the given outcome for a layer.
func (m *Metrics) AddRows(layer, outcome string, n int) {
	if m == nil || m.rows == nil || n <= 0 {
		return
	}
	m.rows.WithLabelValues(normalizeLabel(layer), normalizeLabel(outcome)).Add(float64(n))
}

// IncRun counts a finished run by its final state.
func (m *Metrics) IncRun(state string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(state)).Inc()
}

// IncUpload counts an upload attempt outcome for a layer.
func (m *Metrics) IncUpload(layer string, err error) {
	if m == nil || m.uploads == nil {
		return
	}
	m.uploads.WithLabelValues(normalizeLabel(layer), status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
