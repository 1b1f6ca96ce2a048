// Package metrics exposes Prometheus collectors for the mentor workflow.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the workflow collectors. A nil *Metrics is valid and
// records nothing.
//
// Metrics:
//   - tddmentor_oracle_requests_total{stage,outcome}
//   - tddmentor_oracle_request_duration_seconds{stage}
//   - tddmentor_generation_total{content_type,outcome}
//   - tddmentor_hint_answers_total{outcome}
//   - tddmentor_persist_failures_total
//   - tddmentor_test_runs_total{outcome}
//   - tddmentor_phase_transitions_total{phase}
type Metrics struct {
	OracleRequests   *prometheus.CounterVec
	OracleDuration   *prometheus.HistogramVec
	Generation       *prometheus.CounterVec
	HintAnswers      *prometheus.CounterVec
	PersistFailures  prometheus.Counter
	TestRuns         *prometheus.CounterVec
	PhaseTransitions *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OracleRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tddmentor_oracle_requests_total",
			Help: "Oracle requests by stage and outcome",
		}, []string{"stage", "outcome"}),
		OracleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tddmentor_oracle_request_duration_seconds",
			Help:    "Oracle request latency",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"stage"}),
		Generation: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tddmentor_generation_total",
			Help: "Pipeline runs by content type and outcome (selected, unselected, fallback, empty)",
		}, []string{"content_type", "outcome"}),
		HintAnswers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tddmentor_hint_answers_total",
			Help: "Hint requests by outcome",
		}, []string{"outcome"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "tddmentor_persist_failures_total",
			Help: "Session snapshots that failed to persist",
		}),
		TestRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tddmentor_test_runs_total",
			Help: "Test runs by outcome",
		}, []string{"outcome"}),
		PhaseTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tddmentor_phase_transitions_total",
			Help: "Phase entries by phase",
		}, []string{"phase"}),
	}
}

// ObserveOracle records one oracle request.
func (m *Metrics) ObserveOracle(stage string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.OracleRequests.WithLabelValues(stage, outcome).Inc()
	m.OracleDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordGeneration records the outcome of a pipeline run.
func (m *Metrics) RecordGeneration(contentType, outcome string) {
	if m == nil {
		return
	}
	m.Generation.WithLabelValues(contentType, outcome).Inc()
}

// RecordHint records whether a hint request produced an answer.
func (m *Metrics) RecordHint(answered bool) {
	if m == nil {
		return
	}
	outcome := "answered"
	if !answered {
		outcome = "unanswered"
	}
	m.HintAnswers.WithLabelValues(outcome).Inc()
}

// RecordPersistFailure counts a failed snapshot save.
func (m *Metrics) RecordPersistFailure(error) {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

// RecordTestRun records a test run outcome.
func (m *Metrics) RecordTestRun(success bool) {
	if m == nil {
		return
	}
	outcome := "pass"
	if !success {
		outcome = "fail"
	}
	m.TestRuns.WithLabelValues(outcome).Inc()
}

// RecordPhase counts entry into phase.
func (m *Metrics) RecordPhase(phase string) {
	if m == nil {
		return
	}
	m.PhaseTransitions.WithLabelValues(phase).Inc()
}
