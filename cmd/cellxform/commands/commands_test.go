package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cellxform/cellxform/pkg/config"
	"github.com/cellxform/cellxform/pkg/engine"
	"github.com/cellxform/cellxform/pkg/events"
	"github.com/cellxform/cellxform/pkg/model"
	"github.com/cellxform/cellxform/pkg/policy"
	"github.com/cellxform/cellxform/pkg/stores"
)

const decayModel = `
name: "decay"

namespaces: [
	{name: "environment"},
	{name: "cell"},
	{name: "gate", parent: "cell"},
]

units: [
	{name: "per_ms", definition: "millisecond^-1"},
]

variables: [
	{namespace: "environment", name: "time", units: "ms", public: "out", kind: "free"},
	{namespace: "cell", name: "time", units: "ms", public: "in", private: "out"},
	{namespace: "cell", name: "k", units: "per_ms", initial: 0.5},
	{namespace: "cell", name: "x", units: "dimensionless", initial: 1, public: "out", tag: "decaying_quantity"},
	{namespace: "cell", name: "rate", units: "per_ms", private: "in"},
	{namespace: "gate", name: "time", units: "ms", public: "in"},
	{namespace: "gate", name: "rate", units: "per_ms", public: "out"},
]

equations: [
	{namespace: "cell", target: "x", bvar: "time", rhs: "-(k + rate) * x"},
	{namespace: "gate", target: "rate", rhs: "0.1 * exp(-time / 100)"},
]

connections: [
	{from: "environment,time", to: "cell,time"},
	{from: "cell,time", to: "gate,time"},
	{from: "gate,rate", to: "cell,rate"},
]
`

const clampProtocol = `name: clamp
inputs:
  - variable: {name: amplitude, units: dimensionless, initial: 2}
  - equation: {target: "cell,k", rhs: "gate.rate * 2"}
outputs:
  - tag:decaying_quantity
`

// workspace writes the decay model and clamp protocol to a temporary
// directory and points the run history there.
func workspace(t *testing.T) (dir, modelPath, protocolPath string) {
	t.Helper()
	dir = t.TempDir()
	modelPath = writeFile(t, dir, "decay.cue", decayModel)
	protocolPath = writeFile(t, dir, "clamp.yaml", clampProtocol)

	t.Setenv("CELLXFORM_STORE_PATH", filepath.Join(dir, "data", "history.db"))
	t.Setenv("CELLXFORM_LOG_LEVEL", "error")
	return dir, modelPath, protocolPath
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand("1.0.0", "abc123", "2026-01-01")
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestApplyCommand(t *testing.T) {
	_, modelPath, protocolPath := workspace(t)

	out, err := executeCommand(t, "apply", modelPath, protocolPath, "--out", "json")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	var report engine.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("Failed to parse report: %v\n%s", err, out)
	}
	if report.Status != engine.RunStatusSucceeded {
		t.Errorf("Expected succeeded, got %s", report.Status)
	}
	if report.Redefined["cell,k"] != model.KindComputed {
		t.Errorf("Expected cell,k to become computed, got %s", report.Redefined["cell,k"])
	}
	if diff := cmp.Diff([]string{"cell,x"}, report.Outputs); diff != "" {
		t.Errorf("Unexpected outputs (-want +got):\n%s", diff)
	}

	out, err = executeCommand(t, "history", "--json")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	var runs []*stores.Run
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("Failed to parse runs: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].ID != report.ID || runs[0].Status != engine.RunStatusSucceeded {
		t.Fatalf("Expected the recorded run, got %+v", runs)
	}
	if runs[0].Model != "decay" || runs[0].ProtocolPath != protocolPath {
		t.Errorf("Unexpected run %+v", runs[0])
	}

	out, err = executeCommand(t, "history", report.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	for _, want := range []string{"Status:   succeeded", engine.EventEquationWired, engine.EventApplyDone} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in run details:\n%s", want, out)
		}
	}

	out, err = executeCommand(t, "history")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if !strings.HasPrefix(out, "ID") || !strings.Contains(out, report.ID) {
		t.Errorf("Unexpected run table:\n%s", out)
	}
}

func TestApplyCommand_ConfigFileLogging(t *testing.T) {
	dir, modelPath, protocolPath := workspace(t)
	logPath := filepath.Join(dir, "cellxform.log")
	cfgPath := writeFile(t, dir, "cellxform.yaml", "telemetry:\n  logging:\n    format: json\n    output: "+logPath+"\n")

	if _, err := executeCommand(t, "apply", modelPath, protocolPath, "--config", cfgPath, "--verbose"); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"Settings loaded"`) || !strings.Contains(string(data), `"config":"`+cfgPath+`"`) {
		t.Errorf("Expected settings source in log, got:\n%s", data)
	}
}

func TestApplyCommand_YAMLReport(t *testing.T) {
	_, modelPath, protocolPath := workspace(t)

	out, err := executeCommand(t, "apply", modelPath, protocolPath)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !strings.Contains(out, "status: succeeded") {
		t.Errorf("Expected a YAML report, got:\n%s", out)
	}

	if _, err := executeCommand(t, "apply", modelPath, protocolPath, "--out", "xml"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestApplyCommand_Events(t *testing.T) {
	_, modelPath, protocolPath := workspace(t)

	out, err := executeCommand(t, "apply", modelPath, protocolPath, "--events")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	dec := events.NewDecoder(strings.NewReader(out))
	var kinds []events.Kind
	var last *events.Message
	for {
		msg, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Failed to decode event stream: %v", err)
		}
		kinds = append(kinds, msg.Kind)
		last = msg
	}

	if len(kinds) < 2 || kinds[0] != events.KindEvent {
		t.Fatalf("Expected events before the report, got %v", kinds)
	}
	report, err := events.DecodeReport(last)
	if err != nil {
		t.Fatalf("Expected a trailing report: %v", err)
	}
	if report.Status != engine.RunStatusSucceeded {
		t.Errorf("Expected succeeded, got %s", report.Status)
	}
}

func TestApplyCommand_Failures(t *testing.T) {
	dir, modelPath, _ := workspace(t)

	boundProtocol := writeFile(t, dir, "bound.yaml", `inputs:
  - equation: {target: "environment,time", rhs: "0"}
outputs: ["cell,x"]
`)
	missingProtocol := writeFile(t, dir, "missing.yaml", `inputs:
  - equation: {target: "cell,k", rhs: "cell.missing * 2"}
`)

	tests := []struct {
		name     string
		args     []string
		wantCode int
	}{
		{name: "policy denies bound variable", args: []string{"apply", modelPath, boundProtocol}, wantCode: ExitPolicyDenied},
		{name: "bound variable without policy", args: []string{"apply", modelPath, boundProtocol, "--no-policy"}, wantCode: ExitConflict},
		{name: "unknown reference", args: []string{"apply", modelPath, missingProtocol, "--no-policy"}, wantCode: ExitNotFound},
		{name: "missing protocol file", args: []string{"apply", modelPath, filepath.Join(dir, "nope.yaml")}, wantCode: ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, tt.args...)
			if err == nil {
				t.Fatal("Expected error")
			}
			if code := ExitCode(err); code != tt.wantCode {
				t.Errorf("Expected exit code %d, got %d (%v)", tt.wantCode, code, err)
			}
		})
	}

	out, err := executeCommand(t, "history", "--json", "--status", "denied")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	var runs []*stores.Run
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("Failed to parse runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Stage == nil || *runs[0].Stage != "policy" {
		t.Errorf("Expected one run denied at the policy stage, got %+v", runs)
	}

	if _, err := executeCommand(t, "history", "--status", "bogus"); err == nil {
		t.Error("Expected error for unknown status")
	}
}

func TestValidateCommand(t *testing.T) {
	dir, modelPath, protocolPath := workspace(t)

	out, err := executeCommand(t, "validate", modelPath)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !strings.Contains(out, "valid: true") || !strings.Contains(out, "model: decay") {
		t.Errorf("Unexpected output:\n%s", out)
	}

	out, err = executeCommand(t, "validate", modelPath, protocolPath, "--json")
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	var result validationResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("Failed to parse result: %v", err)
	}
	if !result.Valid || result.Status != engine.RunStatusSucceeded || result.Protocol != "clamp" {
		t.Errorf("Unexpected result %+v", result)
	}
	if diff := cmp.Diff([]string{"cell,x"}, result.Outputs); diff != "" {
		t.Errorf("Unexpected outputs (-want +got):\n%s", diff)
	}

	// The dry run leaves the history empty.
	out, _ = executeCommand(t, "history", "--json")
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("Expected no recorded runs, got %s", out)
	}

	bound := writeFile(t, dir, "bound.yaml", "inputs:\n  - equation: {target: \"environment,time\", rhs: \"0\"}\n")
	out, err = executeCommand(t, "validate", modelPath, bound)
	var denied *policy.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("Expected policy denial, got %v", err)
	}
	if !strings.Contains(out, "valid: false") || !strings.Contains(out, policy.PolicyBoundVariable) {
		t.Errorf("Expected violations in output:\n%s", out)
	}

	broken := writeFile(t, dir, "broken.cue", "name: \"broken\"\nnamespaces: []\n")
	_, err = executeCommand(t, "validate", broken)
	var invalid config.ValidationErrors
	if !errors.As(err, &invalid) {
		t.Errorf("Expected validation errors, got %v", err)
	}
}

func TestGraphCommand(t *testing.T) {
	_, modelPath, protocolPath := workspace(t)

	out, err := executeCommand(t, "graph", modelPath)
	if err != nil {
		t.Fatalf("Graph failed: %v", err)
	}
	if !strings.HasPrefix(out, "digraph DependencyGraph {") || !strings.Contains(out, `"cell,x"`) {
		t.Errorf("Unexpected DOT output:\n%s", out)
	}

	out, err = executeCommand(t, "graph", modelPath, "--levels")
	if err != nil {
		t.Fatalf("Graph failed: %v", err)
	}
	if !strings.HasPrefix(out, "0: ") {
		t.Errorf("Unexpected levels output:\n%s", out)
	}

	out, err = executeCommand(t, "graph", modelPath, "--protocol", protocolPath)
	if err != nil {
		t.Fatalf("Graph failed: %v", err)
	}
	if strings.Contains(out, "protocol,amplitude") {
		t.Errorf("Expected the unused protocol variable to be sliced away:\n%s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if !strings.HasPrefix(out, "cellxform 1.0.0 (commit: abc123") {
		t.Errorf("Unexpected version output %q", out)
	}

	out, err = executeCommand(t, "version", "--json")
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	var info versionInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil || info.Commit != "abc123" {
		t.Errorf("Unexpected version info %q (%v)", out, err)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitFailure},
		{"not found", model.NewNotFoundError("x", nil), ExitNotFound},
		{"interface mismatch", model.NewInterfaceMismatchError("x", nil), ExitInterfaceMismatch},
		{"unreachable", model.NewUnreachableError("x", nil), ExitUnreachable},
		{"conflict", model.NewConflictError("x", nil), ExitConflict},
		{"structural", model.NewStructuralError("single-definition", "x", nil), ExitStructural},
		{"wrapped", errors.Join(errors.New("context"), model.NewConflictError("x", nil)), ExitConflict},
		{"policy", &policy.DeniedError{}, ExitPolicyDenied},
		{"invalid input", config.ValidationErrors{{Message: "bad"}}, ExitInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestProtocolParams(t *testing.T) {
	got := protocolParams(map[string]string{"scale": "3", "gain": "0.5", "clamp": "true", "label": "fast"})
	want := map[string]interface{}{"scale": 3, "gain": 0.5, "clamp": true, "label": "fast"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Params mismatch (-want +got):\n%s", diff)
	}
}
