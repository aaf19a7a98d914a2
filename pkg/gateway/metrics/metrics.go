// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the interview gateway.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec

	// Turn metrics
	TurnsTotal       *prometheus.CounterVec
	TranscriptLength prometheus.Histogram

	// Judgment metrics
	JudgmentsTotal   *prometheus.CounterVec
	JudgmentDuration prometheus.Histogram

	// Report metrics
	ReportsTotal  *prometheus.CounterVec
	ArchivesTotal *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "interviewd"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of interview sessions with a live connection",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of completed interview sessions",
		},
		[]string{"role", "outcome"},
	)

	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Interview session duration in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"role"},
	)

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of answer turns received",
		},
		[]string{"role"},
	)

	transcriptLength := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcript_length_chars",
			Help:      "Answer transcript length in characters",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	judgmentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judgments_total",
			Help:      "Total number of per-turn judgment calls",
		},
		[]string{"status"},
	)

	judgmentDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "judgment_duration_seconds",
			Help:      "Per-turn judgment call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	reportsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Total number of final reports delivered",
		},
		[]string{"mode"},
	)

	archivesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_archives_total",
			Help:      "Total number of report archive attempts",
		},
		[]string{"status"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors sent to clients",
		},
		[]string{"scope", "code"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		turnsTotal,
		transcriptLength,
		judgmentsTotal,
		judgmentDuration,
		reportsTotal,
		archivesTotal,
		errorsTotal,
	)

	return &Metrics{
		registry:         registry,
		SessionsActive:   sessionsActive,
		SessionsTotal:    sessionsTotal,
		SessionDuration:  sessionDuration,
		TurnsTotal:       turnsTotal,
		TranscriptLength: transcriptLength,
		JudgmentsTotal:   judgmentsTotal,
		JudgmentDuration: judgmentDuration,
		ReportsTotal:     reportsTotal,
		ArchivesTotal:    archivesTotal,
		ErrorsTotal:      errorsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a connection attaching to a session.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session detaching with a terminal outcome.
func (m *Metrics) RecordSessionEnd(role, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(role, outcome).Inc()
	m.SessionDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// RecordTurn records one accepted answer turn.
func (m *Metrics) RecordTurn(role string, transcriptLen int) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(role).Inc()
	m.TranscriptLength.Observe(float64(transcriptLen))
}

// RecordJudgment records a resolved per-turn judgment call.
func (m *Metrics) RecordJudgment(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.JudgmentsTotal.WithLabelValues(status).Inc()
	m.JudgmentDuration.Observe(duration.Seconds())
}

// RecordReport records a delivered final report.
func (m *Metrics) RecordReport(mode string) {
	if m == nil {
		return
	}
	m.ReportsTotal.WithLabelValues(mode).Inc()
}

// RecordArchive records a report archive attempt.
func (m *Metrics) RecordArchive(status string) {
	if m == nil {
		return
	}
	m.ArchivesTotal.WithLabelValues(status).Inc()
}

// RecordClientError records an error frame sent to a client.
func (m *Metrics) RecordClientError(scope, code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(scope, code).Inc()
}
