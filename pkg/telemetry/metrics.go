package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for builds, deploys and the dev loop.
// A disabled Metrics accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	rebuilds *prometheus.CounterVec

	readinessWaits    *prometheus.CounterVec
	readinessDuration *prometheus.HistogramVec

	supervisedProcesses prometheus.Gauge

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

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of unit operations by kind and status",
			},
			[]string{"kind", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of unit operations in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		rebuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rebuilds_total",
				Help:      "Total number of change-triggered rebuilds per unit",
			},
			[]string{"unit"},
		),
		readinessWaits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "readiness_waits_total",
				Help:      "Total number of port readiness waits by target and outcome",
			},
			[]string{"target", "status"},
		),
		readinessDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "readiness_wait_seconds",
				Help:      "Time spent waiting for a port to accept connections",
				Buckets:   buckets,
			},
			[]string{"target"},
		),
		supervisedProcesses: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "supervised_processes",
				Help:      "Current number of long-lived child processes",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.operations,
		m.operationDuration,
		m.rebuilds,
		m.readinessWaits,
		m.readinessDuration,
		m.supervisedProcesses,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Enabled reports whether metrics are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// RecordOperation records a finished build, deploy or rebuild.
func (m *Metrics) RecordOperation(kind, status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.operations.WithLabelValues(kind, status).Inc()
	m.operationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRebuild counts a change-triggered rebuild of unit.
func (m *Metrics) RecordRebuild(unit string) {
	if !m.Enabled() {
		return
	}
	m.rebuilds.WithLabelValues(unit).Inc()
}

// RecordReadinessWait records how long a port took to come up.
func (m *Metrics) RecordReadinessWait(target, status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.readinessWaits.WithLabelValues(target, status).Inc()
	m.readinessDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// SetSupervisedProcesses sets the number of running child processes.
func (m *Metrics) SetSupervisedProcesses(count int) {
	if !m.Enabled() {
		return
	}
	m.supervisedProcesses.Set(float64(count))
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Start returns when the timer was created.
func (t *Timer) Start() time.Time {
	return t.start
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is cancelled.
// It returns immediately when metrics are disabled.
func (m *Metrics) Serve(ctx context.Context) error {
	if !m.Enabled() {
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

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
