package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the pipeline counters. A nil *Metrics is valid and records
// nothing, so services can run without observability wired.
type Metrics struct {
	recordsCleaned  *prometheus.CounterVec
	verdictsScored  *prometheus.CounterVec
	persistFailures prometheus.Counter
	fitIterations   prometheus.Gauge
}

// New registers the pipeline collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		recordsCleaned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zentry_records_cleaned_total",
			Help: "Cleaned records by resulting status.",
		}, []string{"status"}),
		verdictsScored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zentry_verdicts_scored_total",
			Help: "Scored verdicts by outcome.",
		}, []string{"outcome"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zentry_persist_failures_total",
			Help: "Failed persistence operations.",
		}),
		fitIterations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zentry_fit_iterations",
			Help: "Iterations used by the most recent training run.",
		}),
	}
	reg.MustRegister(m.recordsCleaned, m.verdictsScored, m.persistFailures, m.fitIterations)
	return m
}

// RecordCleaned counts n records that ended with the given cleaning status.
func (m *Metrics) RecordCleaned(status string, n int) {
	if m == nil {
		return
	}
	m.recordsCleaned.WithLabelValues(status).Add(float64(n))
}

// RecordVerdict counts one scored verdict.
func (m *Metrics) RecordVerdict(anomalous bool) {
	if m == nil {
		return
	}
	outcome := "normal"
	if anomalous {
		outcome = "anomalous"
	}
	m.verdictsScored.WithLabelValues(outcome).Inc()
}

// RecordPersistFailure counts one failed save.
func (m *Metrics) RecordPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// RecordFitIterations records the iteration count of a training run.
func (m *Metrics) RecordFitIterations(n int) {
	if m == nil {
		return
	}
	m.fitIterations.Set(float64(n))
}
