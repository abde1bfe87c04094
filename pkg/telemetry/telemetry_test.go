package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/cellxform/cellxform/pkg/engine"
	"github.com/cellxform/cellxform/pkg/model"
	"github.com/cellxform/cellxform/pkg/model/modeltest"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"production", func(c *Config) { *c = *ProductionConfig() }, false},
		{"development", func(c *Config) { *c = *DevelopmentConfig() }, false},
		{"missing service", func(c *Config) { c.ServiceName = "" }, true},
		{"missing version", func(c *Config) { c.ServiceVersion = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"disabled exporter ignored", func(c *Config) { c.Tracing.Exporter = "jaeger" }, false},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 1.5 }, true},
		{"missing metrics path", func(c *Config) { c.Metrics.Path = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cellxform.log")
	logger, err := NewLogger(LoggingConfig{
		Level:  "warn",
		Format: "json",
		Output: path,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	component := logger.NewComponentLogger("engine").WithRunID("run-7")
	component.Info("dropped below level")
	component.Warn("unit mismatch tolerated")
	component.WithError(errors.New("store closed")).Error("history write failed")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "dropped below level") {
		t.Errorf("Expected info message to be filtered, got %s", out)
	}
	for _, want := range []string{
		`"component":"engine"`, `"run_id":"run-7"`, "unit mismatch tolerated",
		`"error":"store closed"`, `"level":"error"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log to contain %s, got %s", want, out)
		}
	}
}

func TestLoggerContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.log")
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	ctx := logger.WithContext(context.Background())
	if FromContext(ctx) != logger {
		t.Error("Expected FromContext to return the attached logger")
	}

	// Packages logging through zerolog.Ctx see the same logger.
	zerolog.Ctx(ctx).Debug().Str("stage", "slice").Msg("via zerolog")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"stage":"slice"`) {
		t.Errorf("Expected zerolog.Ctx output in log, got %s", data)
	}

	if FromContext(context.Background()) == nil {
		t.Error("Expected a default logger without one in the context")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace": zerolog.TraceLevel,
		"debug": zerolog.DebugLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"":      zerolog.InfoLevel,
		"loud":  zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// None of these may panic.
	m.RecordTransformation("succeeded", time.Second)
	m.RecordConnectionsCreated(3)
	m.RecordDetached("variable", 2)
	m.RecordError("Conflict")
	m.SetActiveWatches(1)
	m.RecordReload("failed")

	if m.Registry() != nil {
		t.Error("Expected nil registry for disabled metrics")
	}
	if m.StartMetricsServer() != nil {
		t.Error("Expected no metrics server for disabled metrics")
	}
}

func TestMetricsRecorder(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	m.RecordTransformation("succeeded", 10*time.Millisecond)
	m.RecordTransformation("failed", time.Millisecond)
	m.RecordTransformation("succeeded", 20*time.Millisecond)
	m.RecordConnectionsCreated(2)
	m.RecordConnectionsCreated(0)
	m.RecordDetached("equation", 4)
	m.RecordDetached("equation", -1)
	m.RecordError("InterfaceMismatch")

	if got := testutil.ToFloat64(m.transformations.WithLabelValues("succeeded")); got != 2 {
		t.Errorf("Expected 2 succeeded transformations, got %v", got)
	}
	if got := testutil.ToFloat64(m.connectionsCreated); got != 2 {
		t.Errorf("Expected 2 connections, got %v", got)
	}
	if got := testutil.ToFloat64(m.detached.WithLabelValues("equation")); got != 4 {
		t.Errorf("Expected 4 detached equations, got %v", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("InterfaceMismatch")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
	if got := testutil.CollectAndCount(m.transformationDuration); got != 2 {
		t.Errorf("Expected 2 duration series, got %d", got)
	}
}

func TestMetricsWithEngine(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	tr := engine.New(modeltest.LuoRudy1991(), engine.WithMetrics(m))
	tr.Inputs = []engine.Input{
		&engine.EquationDecl{
			Target: "intracellular_calcium_concentration,Cai",
			RHS:    model.Num(0.0002, "mM"),
		},
	}
	tr.Outputs = []string{"tag:cytosolic_calcium_concentration"}

	if _, err := tr.Apply(context.Background()); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if got := testutil.ToFloat64(m.transformations.WithLabelValues(string(engine.RunStatusSucceeded))); got != 1 {
		t.Errorf("Expected 1 succeeded transformation, got %v", got)
	}
	if got := testutil.ToFloat64(m.detached.WithLabelValues("variable")); got == 0 {
		t.Error("Expected the slicer to record detached variables")
	}

	// A failing run is counted by class.
	tr = engine.New(modeltest.LuoRudy1991(), engine.WithMetrics(m))
	tr.Outputs = []string{"tag:no_such_quantity"}
	if _, err := tr.Apply(context.Background()); err == nil {
		t.Fatal("Expected unknown tag to fail")
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues(string(model.ErrorClassNotFound))); got != 1 {
		t.Errorf("Expected 1 NotFound error, got %v", got)
	}
}

func TestTracerStdout(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig().Tracing
	cfg.Enabled = true
	cfg.Exporter = "stdout"

	tracer, err := newTracer(cfg, "cellxform", "test", "ci", &buf)
	if err != nil {
		t.Fatalf("Failed to create tracer: %v", err)
	}

	ctx, span := tracer.StartCommandSpan(context.Background(), "apply", AttrModelPath.String("lr91.cue"))
	if TraceID(ctx) == "" {
		t.Error("Expected a trace ID in the span context")
	}
	RecordSuccess(span)
	span.End()

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Fatalf("Failed to shut down tracer: %v", err)
	}
	if !strings.Contains(buf.String(), "cellxform.apply") {
		t.Errorf("Expected exported span, got %q", buf.String())
	}
}

func TestTracerDisabled(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Enabled: false}, "cellxform", "test", "ci")
	if err != nil {
		t.Fatalf("Failed to create tracer: %v", err)
	}
	ctx, span := tracer.Start(context.Background(), "noop")
	span.End()
	if TraceID(ctx) != "" {
		t.Error("Expected no trace ID from a disabled tracer")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}

	if _, err := NewTracer(TracingConfig{Enabled: true, Exporter: "zipkin"}, "cellxform", "test", "ci"); err == nil {
		t.Error("Expected error for unsupported exporter")
	}
}

func TestStartOperation(t *testing.T) {
	ic := StartOperation(context.Background(), "validate")
	if ic.Span != nil || ic.Logger == nil || ic.Timer == nil {
		t.Errorf("Expected timer-only operation without telemetry, got %+v", ic)
	}
	ic.End(nil)

	cfg := DefaultConfig()
	cfg.Logging.Output = filepath.Join(t.TempDir(), "op.log")
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("Failed to create telemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	ic = StartOperation(tel.WithContext(context.Background()), "apply")
	if ic.Span == nil {
		t.Error("Expected a span with telemetry in the context")
	}
	if FromContext(ic.Ctx) != ic.Logger {
		t.Error("Expected the operation logger in the returned context")
	}
	ic.End(nil)
}
