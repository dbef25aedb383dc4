package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the control plane. A disabled
// instance is a safe no-op.
type Metrics struct {
	config MetricsConfig

	jobsSubmitted *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	activeJobs    prometheus.Gauge

	serversManaged    prometheus.Gauge
	deploymentsActive prometheus.Gauge

	providerCalls  *prometheus.CounterVec
	providerErrors *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		jobsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_submitted_total",
				Help:      "Total number of jobs submitted",
			},
			[]string{"kind"},
		),
		jobsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_completed_total",
				Help:      "Total number of jobs that reached a terminal state",
			},
			[]string{"kind", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration from job submission to terminal state in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
			},
			[]string{"kind", "status"},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_jobs",
				Help:      "Number of jobs currently executing",
			},
		),
		serversManaged: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "servers_managed",
				Help:      "Number of servers tracked by the state store",
			},
		),
		deploymentsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "deployments_active",
				Help:      "Number of active application deployments",
			},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of cloud/DNS provider calls",
			},
			[]string{"provider", "operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of failed provider calls",
			},
			[]string{"provider", "operation"},
		),
	}

	registry.MustRegister(
		m.jobsSubmitted,
		m.jobsCompleted,
		m.jobDuration,
		m.activeJobs,
		m.serversManaged,
		m.deploymentsActive,
		m.providerCalls,
		m.providerErrors,
	)

	return m, nil
}

// Enabled reports whether metrics collection is active.
func (m *Metrics) Enabled() bool {
	return m != nil && m.config.Enabled
}

// JobSubmitted records a job submission.
func (m *Metrics) JobSubmitted(kind string) {
	if !m.Enabled() {
		return
	}
	m.jobsSubmitted.WithLabelValues(kind).Inc()
}

// JobStarted records a job entering execution.
func (m *Metrics) JobStarted() {
	if !m.Enabled() {
		return
	}
	m.activeJobs.Inc()
}

// JobCompleted records a job reaching a terminal state.
func (m *Metrics) JobCompleted(kind, status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.activeJobs.Dec()
	m.jobsCompleted.WithLabelValues(kind, status).Inc()
	m.jobDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

// SetServersManaged records the current server count.
func (m *Metrics) SetServersManaged(n int) {
	if !m.Enabled() {
		return
	}
	m.serversManaged.Set(float64(n))
}

// SetDeploymentsActive records the current active deployment count.
func (m *Metrics) SetDeploymentsActive(n int) {
	if !m.Enabled() {
		return
	}
	m.deploymentsActive.Set(float64(n))
}

// ProviderCall records a provider call and optionally its failure.
func (m *Metrics) ProviderCall(provider, operation string, err error) {
	if !m.Enabled() {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation).Inc()
	if err != nil {
		m.providerErrors.WithLabelValues(provider, operation).Inc()
	}
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server. It blocks until the server exits.
func (m *Metrics) Serve() error {
	if !m.Enabled() {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())
	return http.ListenAndServe(m.config.ListenAddress, mux)
}
