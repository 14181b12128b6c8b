package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the execution service.
// All Record* helpers are safe to call on a nil *Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	RunErrors         *prometheus.CounterVec
	ActiveRuns        prometheus.Gauge
	AdmissionRejected prometheus.Counter
	QueueWait         prometheus.Histogram
	CleanupFailures   prometheus.Counter
	LeakedArtifacts   prometheus.Counter
	OutputTruncated   prometheus.Counter
	RequestsInFlight  prometheus.Gauge
	CodeSizeBytes     prometheus.Histogram
	OutputSizeBytes   prometheus.Histogram
	AuditDropped      prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sandbox",
				Name:      "runs_total",
				Help:      "Total number of interpreter runs by outcome status.",
			},
			[]string{"status"},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sandbox",
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of interpreter runs measured from spawn.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
			},
		),

		RunErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sandbox",
				Name:      "run_errors_total",
				Help:      "Infrastructure errors by operation (stage, spawn, capacity, canceled).",
			},
			[]string{"type"},
		),

		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sandbox",
				Name:      "active_runs",
				Help:      "Number of interpreter processes currently running.",
			},
		),

		AdmissionRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sandbox",
				Name:      "admission_rejected_total",
				Help:      "Requests rejected because no execution slot freed up in time.",
			},
		),

		QueueWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sandbox",
				Name:      "queue_wait_seconds",
				Help:      "Time spent waiting for an execution slot.",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
		),

		CleanupFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sandbox",
				Name:      "artifact_cleanup_failures_total",
				Help:      "Staged artifacts that could not be removed after a run.",
			},
		),

		LeakedArtifacts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sandbox",
				Name:      "leaked_artifacts_removed_total",
				Help:      "Stale staged artifacts removed by the janitor.",
			},
		),

		OutputTruncated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sandbox",
				Name:      "output_truncated_total",
				Help:      "Runs whose stdout or stderr exceeded the capture cap.",
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sandbox",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sandbox",
				Name:      "code_size_bytes",
				Help:      "Size of submitted source in bytes.",
				Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sandbox",
				Name:      "output_size_bytes",
				Help:      "Size of captured stdout plus stderr in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 10),
			},
		),

		AuditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sandbox",
				Name:      "audit_dropped_total",
				Help:      "Audit records dropped because the buffer was full.",
			},
		),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunErrors,
		m.ActiveRuns,
		m.AdmissionRejected,
		m.QueueWait,
		m.CleanupFailures,
		m.LeakedArtifacts,
		m.OutputTruncated,
		m.RequestsInFlight,
		m.CodeSizeBytes,
		m.OutputSizeBytes,
		m.AuditDropped,
	)

	return m
}

// RecordRun records a classified run.
func (m *Metrics) RecordRun(status string, durationSec float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(durationSec)
}

// RecordError records an infrastructure error by type.
func (m *Metrics) RecordError(errType string) {
	if m == nil {
		return
	}
	m.RunErrors.WithLabelValues(errType).Inc()
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
}

func (m *Metrics) RecordQueueWait(sec float64) {
	if m == nil {
		return
	}
	m.QueueWait.Observe(sec)
}

func (m *Metrics) RecordAdmissionRejected() {
	if m == nil {
		return
	}
	m.AdmissionRejected.Inc()
}

func (m *Metrics) RecordCleanupFailure() {
	if m == nil {
		return
	}
	m.CleanupFailures.Inc()
}

func (m *Metrics) RecordLeakedArtifacts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LeakedArtifacts.Add(float64(n))
}

func (m *Metrics) RecordTruncated() {
	if m == nil {
		return
	}
	m.OutputTruncated.Inc()
}

func (m *Metrics) RecordAuditDropped() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}

// RecordSizes observes the submitted source size and the captured output size.
func (m *Metrics) RecordSizes(codeBytes, outputBytes int) {
	if m == nil {
		return
	}
	m.CodeSizeBytes.Observe(float64(codeBytes))
	m.OutputSizeBytes.Observe(float64(outputBytes))
}
