package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for openmend. It satisfies the metrics
// contracts of both the orchestrator and the daemon. A disabled Metrics is a
// safe no-op.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Cycle metrics
	cyclesExecuted *prometheus.CounterVec
	cycleDuration  *prometheus.HistogramVec

	// Attempt metrics
	attemptsExecuted *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec

	// Escalation metrics
	escalations prometheus.Counter

	// Daemon event metrics
	eventsReceived *prometheus.CounterVec
	eventsHandled  *prometheus.CounterVec
	queueDepth     prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of orchestration runs started",
			},
			[]string{"target"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of orchestration runs completed",
			},
			[]string{"stop_reason"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of orchestration runs in seconds",
				Buckets:   buckets,
			},
			[]string{"stop_reason"},
		),

		cyclesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_executed_total",
				Help:      "Total number of escalation cycles executed",
			},
			[]string{"outcome"},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of escalation cycles in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),

		attemptsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_executed_total",
				Help:      "Total number of method attempts",
			},
			[]string{"method", "outcome"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Duration of method attempts in seconds",
				Buckets:   buckets,
			},
			[]string{"method"},
		),

		escalations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_total",
				Help:      "Total number of escalation set widenings",
			},
		),

		eventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_received_total",
				Help:      "Total number of reported events received",
			},
			[]string{"severity"},
		),
		eventsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_handled_total",
				Help:      "Total number of events processed by the handler unit",
			},
			[]string{"category", "outcome"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_queue_depth",
				Help:      "Current number of queued events",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active orchestration runs",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.cyclesExecuted,
		m.cycleDuration,
		m.attemptsExecuted,
		m.attemptDuration,
		m.escalations,
		m.eventsReceived,
		m.eventsHandled,
		m.queueDepth,
		m.errorsByClass,
		m.errorsByCode,
		m.activeRuns,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(target string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(target).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its stop reason and
// duration.
func (m *Metrics) RecordRunCompleted(stopReason string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(stopReason).Inc()
	m.runDuration.WithLabelValues(stopReason).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// CycleCompleted records one escalation cycle.
func (m *Metrics) CycleCompleted(goalReached bool, duration time.Duration) {
	if m.cyclesExecuted == nil {
		return
	}
	outcome := "failed"
	if goalReached {
		outcome = "converged"
	}
	m.cyclesExecuted.WithLabelValues(outcome).Inc()
	m.cycleDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// AttemptCompleted records one method attempt.
func (m *Metrics) AttemptCompleted(method string, success bool, duration time.Duration) {
	if m.attemptsExecuted == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	m.attemptsExecuted.WithLabelValues(method, outcome).Inc()
	m.attemptDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// EscalationWidened records one widening of the active method set.
func (m *Metrics) EscalationWidened() {
	if m.escalations == nil {
		return
	}
	m.escalations.Inc()
}

// EventReceived records one reported event entering the queue.
func (m *Metrics) EventReceived(severity string) {
	if m.eventsReceived == nil {
		return
	}
	m.eventsReceived.WithLabelValues(severity).Inc()
}

// EventHandled records one event leaving the handler unit.
func (m *Metrics) EventHandled(category string, handled bool) {
	if m.eventsHandled == nil {
		return
	}
	outcome := "unhandled"
	if handled {
		outcome = "handled"
	}
	m.eventsHandled.WithLabelValues(category, outcome).Inc()
}

// QueueDepth sets the current event queue depth.
func (m *Metrics) QueueDepth(depth int) {
	if m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
