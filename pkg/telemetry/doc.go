// Package telemetry provides observability for the mu CLI.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus). Everything except logging is off by default and is
// switched on from the telemetry section of .mu/settings.yaml.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(settings.Telemetry)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	op := tel.StartOperation(ctx, "backend", "build")
//	err = fn.Build(op.Ctx)
//	op.End(err)
//
// # Metrics
//
// When enabled, Metrics.Serve exposes the registry on
// metrics.listen_address for the lifetime of `mu dev`:
//
//   - mu_operations_total{kind,status}
//   - mu_operation_duration_seconds{kind}
//   - mu_rebuilds_total{unit}
//   - mu_readiness_waits_total{target,status}
//   - mu_readiness_wait_seconds{target}
//   - mu_supervised_processes
//
// # Tracing
//
// Exporters are none (default), stdout and otlp (gRPC). Every unit
// operation gets a "unit.<operation>" span carrying mu.unit and
// mu.operation attributes; a dev session is rooted at a "dev.session" span.
package telemetry
