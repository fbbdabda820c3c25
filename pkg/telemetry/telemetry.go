package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing and metrics for one CLI invocation.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// Disabled returns a Telemetry that records nothing.
func Disabled() *Telemetry {
	cfg := DefaultConfig()
	m, _ := NewMetrics(MetricsConfig{})
	t, _ := NewTracer(TracingConfig{Exporter: "none"}, cfg.ServiceName, cfg.ServiceVersion)
	return &Telemetry{
		Logger:  Nop(),
		Tracer:  t,
		Metrics: m,
		Config:  cfg,
	}
}

// Shutdown flushes the tracer and closes the log file.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Tracer.Shutdown(ctx), t.Logger.Close())
}

// Operation is an instrumented unit operation: a span plus a timer whose
// outcome is recorded in metrics when it ends.
type Operation struct {
	Ctx  context.Context
	Span trace.Span

	kind    string
	timer   *Timer
	metrics *Metrics
}

// StartOperation begins tracing and timing an operation of kind on unit.
func (t *Telemetry) StartOperation(ctx context.Context, unit, kind string) *Operation {
	spanCtx, span := t.Tracer.StartUnitSpan(ctx, unit, kind)
	return &Operation{
		Ctx:     spanCtx,
		Span:    span,
		kind:    kind,
		timer:   NewTimer(),
		metrics: t.Metrics,
	}
}

// Timer returns the operation's timer.
func (o *Operation) Timer() *Timer {
	return o.timer
}

// End finishes the operation, recording success or failure.
func (o *Operation) End(err error) {
	status := "succeeded"
	if err != nil {
		status = "failed"
		RecordError(o.Span, err)
	} else {
		RecordSuccess(o.Span)
	}
	o.Span.End()
	o.metrics.RecordOperation(o.kind, status, o.timer.Duration())
}
