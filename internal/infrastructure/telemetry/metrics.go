package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metric names, without namespace.
const (
	MetricRunsTotal            = "runs_total"
	MetricRunDurationSeconds   = "run_duration_seconds"
	MetricRunsInProgress       = "runs_in_progress"
	MetricRecordsExtracted     = "records_extracted_total"
	MetricRowsLoaded           = "rows_loaded_total"
	MetricRetriesTotal         = "retries_total"
	MetricLastSuccessTimestamp = "last_success_timestamp_seconds"
	MetricAlertsTotal          = "alerts_total"
)

// ETLMetrics holds the Prometheus collectors for pipeline runs on a private
// registry.
//
// A nil *ETLMetrics is valid and records nothing.
type ETLMetrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	runsInProgress *prometheus.GaugeVec
	extracted      *prometheus.CounterVec
	loaded         *prometheus.CounterVec
	retries        *prometheus.CounterVec
	lastSuccess    *prometheus.GaugeVec
	alertsTotal    *prometheus.CounterVec
}

// MetricsOption configures ETLMetrics
type MetricsOption func(*metricsOptions)

type metricsOptions struct {
	buckets        []float64
	processMetrics bool
}

// WithDurationBuckets overrides the run duration histogram buckets
func WithDurationBuckets(buckets []float64) MetricsOption {
	return func(o *metricsOptions) {
		o.buckets = buckets
	}
}

// WithProcessMetrics adds the Go runtime and process collectors
func WithProcessMetrics() MetricsOption {
	return func(o *metricsOptions) {
		o.processMetrics = true
	}
}

// NewETLMetrics creates and registers the pipeline collectors under namespace.
func NewETLMetrics(namespace string, opts ...MetricsOption) *ETLMetrics {
	if namespace == "" {
		namespace = "etl"
	}
	options := &metricsOptions{
		buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}
	for _, opt := range opts {
		opt(options)
	}

	m := &ETLMetrics{registry: prometheus.NewRegistry()}

	m.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricRunsTotal,
		Help:      "Completed pipeline runs by terminal status.",
	}, []string{"source", "target", "status"})

	m.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      MetricRunDurationSeconds,
		Help:      "Duration of pipeline runs in seconds.",
		Buckets:   options.buckets,
	}, []string{"source", "target"})

	m.runsInProgress = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      MetricRunsInProgress,
		Help:      "Pipeline runs currently executing.",
	}, []string{"source"})

	m.extracted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricRecordsExtracted,
		Help:      "Raw parent records fetched from vendors.",
	}, []string{"source"})

	m.loaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricRowsLoaded,
		Help:      "Flat rows written to staging tables.",
	}, []string{"source", "target"})

	m.retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricRetriesTotal,
		Help:      "Transient failures that were retried.",
	}, []string{"source", "operation"})

	m.lastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      MetricLastSuccessTimestamp,
		Help:      "Unix time of the last successful run.",
	}, []string{"source"})

	m.alertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricAlertsTotal,
		Help:      "Monitor alerts raised by rule and severity.",
	}, []string{"source", "rule", "severity"})

	m.registry.MustRegister(
		m.runsTotal, m.runDuration, m.runsInProgress, m.extracted,
		m.loaded, m.retries, m.lastSuccess, m.alertsTotal,
	)
	if options.processMetrics {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the underlying registry
func (m *ETLMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *ETLMetrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunStarted marks a run in flight for source.
func (m *ETLMetrics) RunStarted(source string) {
	if m == nil {
		return
	}
	m.runsInProgress.WithLabelValues(source).Inc()
}

// RunFinished records a terminal run.
func (m *ETLMetrics) RunFinished(source, target, status string, duration time.Duration, endedAt time.Time) {
	if m == nil {
		return
	}
	m.runsInProgress.WithLabelValues(source).Dec()
	m.runsTotal.WithLabelValues(source, target, status).Inc()
	m.runDuration.WithLabelValues(source, target).Observe(duration.Seconds())
	if status == "success" {
		m.lastSuccess.WithLabelValues(source).Set(float64(endedAt.Unix()))
	}
}

// RunAbandoned clears the in-flight mark of a run whose outcome could not
// be recorded.
func (m *ETLMetrics) RunAbandoned(source string) {
	if m == nil {
		return
	}
	m.runsInProgress.WithLabelValues(source).Dec()
}

// RecordsExtracted adds n fetched parent records.
func (m *ETLMetrics) RecordsExtracted(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.extracted.WithLabelValues(source).Add(float64(n))
}

// RowsLoaded adds n loaded staging rows.
func (m *ETLMetrics) RowsLoaded(source, target string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.loaded.WithLabelValues(source, target).Add(float64(n))
}

// Retried counts one retry of operation.
func (m *ETLMetrics) Retried(source, operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(source, operation).Inc()
}

// AlertRaised counts one monitor alert.
func (m *ETLMetrics) AlertRaised(source, rule, severity string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(source, rule, severity).Inc()
}
