package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for transformations. It implements
// engine.MetricsRecorder. A disabled instance records nothing.
type Metrics struct {
	config MetricsConfig

	// Transformation metrics
	transformations        *prometheus.CounterVec
	transformationDuration *prometheus.HistogramVec

	// Graph edit metrics
	connectionsCreated prometheus.Counter
	detached           *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// Watch metrics
	activeWatches prometheus.Gauge
	reloads       *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
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

		transformations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transformations_total",
				Help:      "Total number of transformations applied, by outcome",
			},
			[]string{"status"},
		),
		transformationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transformation_duration_seconds",
				Help:      "Duration of transformation runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		connectionsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_created_total",
				Help:      "Total number of connections synthesized for cross-namespace references",
			},
		),
		detached: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detached_total",
				Help:      "Total number of graph elements detached, by kind",
			},
			[]string{"kind"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of failed transformations by error class",
			},
			[]string{"class"},
		),

		activeWatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_watches",
				Help:      "Number of model/protocol pairs being watched",
			},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_reloads_total",
				Help:      "Total number of re-applications triggered by file changes",
			},
			[]string{"status"},
		),
	}

	collectors := []prometheus.Collector{
		m.transformations,
		m.transformationDuration,
		m.connectionsCreated,
		m.detached,
		m.errorsByClass,
		m.activeWatches,
		m.reloads,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Registry returns the metrics registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTransformation records a finished transformation.
func (m *Metrics) RecordTransformation(status string, duration time.Duration) {
	if m.transformations == nil {
		return
	}
	m.transformations.WithLabelValues(status).Inc()
	m.transformationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordConnectionsCreated adds n synthesized connections.
func (m *Metrics) RecordConnectionsCreated(n int) {
	if m.connectionsCreated == nil || n <= 0 {
		return
	}
	m.connectionsCreated.Add(float64(n))
}

// RecordDetached adds n detached elements of the given kind (variable,
// equation, connection).
func (m *Metrics) RecordDetached(kind string, n int) {
	if m.detached == nil || n <= 0 {
		return
	}
	m.detached.WithLabelValues(kind).Add(float64(n))
}

// RecordError records a failure by error class.
func (m *Metrics) RecordError(class string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// SetActiveWatches sets the number of watched model/protocol pairs.
func (m *Metrics) SetActiveWatches(count float64) {
	if m.activeWatches == nil {
		return
	}
	m.activeWatches.Set(count)
}

// RecordReload records a re-application triggered by a file change.
func (m *Metrics) RecordReload(status string) {
	if m.reloads == nil {
		return
	}
	m.reloads.WithLabelValues(status).Inc()
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

// StartMetricsServer starts an HTTP server exposing metrics. It returns nil
// when metrics are disabled; the caller shuts the server down.
func (m *Metrics) StartMetricsServer() *http.Server {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Metrics are best effort; the watch loop keeps running.
			log.Error().Err(err).Str("address", server.Addr).Msg("Metrics server stopped")
		}
	}()

	return server
}
