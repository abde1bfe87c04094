// Package telemetry provides observability instrumentation for cellxform.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) behind one Telemetry value that
// the CLI builds at startup and passes down through the context.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// WithContext attaches both the Logger and its zerolog logger, so the engine
// and stores, which log through zerolog.Ctx, inherit the configured level and
// format:
//
//	logger := tel.Logger.NewComponentLogger("cli").WithModel(m.Name, path)
//	logger.Info("Model loaded")
//
// Logs go to stderr by default. Reports and event streams own stdout.
//
// # Distributed Tracing
//
// The engine opens a "transformation.apply" span per run. Pass the configured
// tracer with engine.WithTracer(tel.Tracer.Tracer()). Supported exporters are
// "otlp" (gRPC), "stdout" (pretty JSON on stderr) and "none".
//
// # Metrics
//
// Metrics implements engine.MetricsRecorder:
//
//	tr := engine.New(m, engine.WithMetrics(tel.Metrics))
//
// Key metrics exposed:
//
//   - cellxform_transformations_total{status}
//   - cellxform_transformation_duration_seconds{status}
//   - cellxform_connections_created_total
//   - cellxform_detached_total{kind}
//   - cellxform_errors_by_class_total{class}
//   - cellxform_active_watches
//   - cellxform_watch_reloads_total{status}
//
// Only `cellxform watch` serves them over HTTP (StartMetricsServer).
package telemetry
