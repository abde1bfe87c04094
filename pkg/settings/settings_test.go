package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	s, err := Load("", t.TempDir())
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	want := DefaultSettings()
	if diff := cmp.Diff(want, s, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Default settings mismatch (-want +got):\n%s", diff)
	}
	if s.Source != "" {
		t.Errorf("Expected no source file, got %s", s.Source)
	}
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "cellxform.yaml", `
telemetry:
  logging:
    level: debug
    format: json
  tracing:
    enabled: true
    exporter: otlp
    export_timeout: 10s
store:
  path: /tmp/history.db
policy:
  dirs:
    - ./policies
    - ./more
units:
  strict: true
protocol:
  starlark_timeout: 2s
`)

	s, err := Load("", dir)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if s.Telemetry.Logging.Level != "debug" || s.Telemetry.Logging.Format != "json" {
		t.Errorf("Unexpected logging config %+v", s.Telemetry.Logging)
	}
	if !s.Telemetry.Tracing.Enabled || s.Telemetry.Tracing.ExportTimeout != 10*time.Second {
		t.Errorf("Unexpected tracing config %+v", s.Telemetry.Tracing)
	}
	if s.Telemetry.Metrics.Path != "/metrics" {
		t.Errorf("Expected default metrics path, got %s", s.Telemetry.Metrics.Path)
	}
	if s.Store.Path != "/tmp/history.db" {
		t.Errorf("Expected store path /tmp/history.db, got %s", s.Store.Path)
	}
	if diff := cmp.Diff([]string{"./policies", "./more"}, s.Policy.Dirs); diff != "" {
		t.Errorf("Policy dirs mismatch (-want +got):\n%s", diff)
	}
	if !s.Units.Strict {
		t.Error("Expected strict units")
	}
	if s.Protocol.StarlarkTimeout != 2*time.Second {
		t.Errorf("Expected 2s starlark timeout, got %s", s.Protocol.StarlarkTimeout)
	}
	if s.Source != filepath.Join(dir, "cellxform.yaml") {
		t.Errorf("Unexpected source %s", s.Source)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "settings.toml", `
[store]
disabled = true
path = ""

[watch]
debounce = "1s"
serve_metrics = false
`)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if !s.Store.Disabled {
		t.Error("Expected store to be disabled")
	}
	if s.Watch.Debounce != time.Second || s.Watch.ServeMetrics {
		t.Errorf("Unexpected watch settings %+v", s.Watch)
	}
}

func TestLoad_Environment(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "cellxform.yaml", "store:\n  path: from-file.db\n")

	t.Setenv("CELLXFORM_STORE_PATH", "from-env.db")
	t.Setenv("CELLXFORM_LOG_LEVEL", "warn")
	t.Setenv("CELLXFORM_UNITS_STRICT", "true")
	t.Setenv("CELLXFORM_POLICY_DIRS", "a,b")

	s, err := Load("", dir)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if s.Store.Path != "from-env.db" {
		t.Errorf("Expected environment to override file, got %s", s.Store.Path)
	}
	if s.Telemetry.Logging.Level != "warn" {
		t.Errorf("Expected log level warn, got %s", s.Telemetry.Logging.Level)
	}
	if !s.Units.Strict {
		t.Error("Expected strict units from environment")
	}
	if diff := cmp.Diff([]string{"a", "b"}, s.Policy.Dirs); diff != "" {
		t.Errorf("Policy dirs mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
	}{
		{name: "missing explicit file", path: filepath.Join(dir, "missing.yaml")},
		{name: "malformed yaml", path: writeConfig(t, dir, "bad.yaml", "store: [\n")},
		{name: "invalid log level", path: writeConfig(t, dir, "level.yaml", "telemetry:\n  logging:\n    level: loud\n")},
		{name: "empty store path", path: writeConfig(t, dir, "store.yaml", "store:\n  path: \"\"\n")},
		{name: "zero starlark timeout", path: writeConfig(t, dir, "timeout.yaml", "protocol:\n  starlark_timeout: 0s\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.path); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestValidate_ConfigError(t *testing.T) {
	s := DefaultSettings()
	s.Store.Path = ""
	s.Policy.Dirs = []string{""}

	err := s.Validate()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigError, got %v", err)
	}
	if cfgErr.Field != "Settings.Store.Path" {
		t.Errorf("Expected Settings.Store.Path, got %s", cfgErr.Field)
	}

	s = DefaultSettings()
	s.Telemetry.Tracing.SamplingRate = 2
	if err := s.Validate(); !errors.As(err, &cfgErr) || cfgErr.Field != "telemetry" {
		t.Errorf("Expected telemetry ConfigError, got %v", err)
	}
}

func TestStoreConfig(t *testing.T) {
	s := DefaultSettings()
	if got := s.StoreConfig().Path; got != filepath.Join("data", "cellxform.db") {
		t.Errorf("Expected default store path, got %s", got)
	}
}
