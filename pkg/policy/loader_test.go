package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cellxform/cellxform/pkg/engine"
	"github.com/cellxform/cellxform/pkg/model"
)

const denyAllRego = `# Rejects every batch.
# Used for loader tests.
package custom.deny_all

import rego.v1

deny contains "denied" if {
	true
}`

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := newTestLoader()
	policyFile := filepath.Join(t.TempDir(), "deny-all.rego")
	writeFile(t, policyFile, denyAllRego)

	policies, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "deny-all" {
		t.Errorf("Expected name 'deny-all', got '%s'", p.Name)
	}
	if p.Description != "Rejects every batch. Used for loader tests." {
		t.Errorf("Unexpected description '%s'", p.Description)
	}
	if p.Severity != SeverityError || !p.Enabled || p.Builtin {
		t.Errorf("Unexpected defaults %+v", p)
	}
	if p.Metadata["package"] != "custom.deny_all" {
		t.Errorf("Expected package metadata, got %v", p.Metadata)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := newTestLoader()
	policyFile := filepath.Join(t.TempDir(), "policy.json")

	data, err := json.Marshal(Policy{
		Name:        "json-policy",
		Description: "A test policy",
		Rego:        denyAllRego,
		Enabled:     true,
		Builtin:     true,
	})
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	writeFile(t, policyFile, string(data))

	policies, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}
	p := policies[0]
	if p.Name != "json-policy" || p.Description != "A test policy" {
		t.Errorf("Unexpected policy %+v", p)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("Expected default warning severity, got '%s'", p.Severity)
	}
	if p.Builtin {
		t.Error("Expected loaded policy not to be built-in")
	}
	if p.Metadata["source"] != policyFile {
		t.Errorf("Expected source metadata, got %v", p.Metadata)
	}
}

func TestLoadFromFile_Bundle(t *testing.T) {
	loader := newTestLoader()
	bundleFile := filepath.Join(t.TempDir(), "bundle.json")

	bundle := PolicyBundle{
		Name:    "lab-rules",
		Version: "1.0.0",
		Policies: []Policy{
			{Name: "first", Rego: denyAllRego, Severity: SeverityError, Enabled: true},
			{Name: "second", Rego: "package custom.second\n", Enabled: true},
		},
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}
	writeFile(t, bundleFile, string(data))

	policies, err := loader.loadFromFile(bundleFile)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}
	if len(policies) != 2 || policies[1].Severity != SeverityWarning {
		t.Errorf("Unexpected policies %+v", policies)
	}

	loaded, err := loader.LoadBundle(bundleFile)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}
	if loaded.Name != "lab-rules" || loaded.Version != "1.0.0" {
		t.Errorf("Unexpected bundle %s@%s", loaded.Name, loaded.Version)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	loader := newTestLoader()
	dir := t.TempDir()

	tests := map[string]string{
		"invalid.json":  "{not json",
		"nameless.json": `{"rego": "package x"}`,
		"empty.json":    `{"name": "empty"}`,
		"policy.txt":    "package x",
	}
	for name, content := range tests {
		path := filepath.Join(dir, name)
		writeFile(t, path, content)
		if _, err := loader.loadFromFile(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	if _, err := loader.loadFromPath(filepath.Join(dir, "missing")); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := newTestLoader()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "a.rego"), "package a\n")
	writeFile(t, filepath.Join(dir, "nested", "b.rego"), "package b\n")
	writeFile(t, filepath.Join(dir, "nested", "deeper", "c.json"), `{"name": "c", "rego": "package c"}`)
	writeFile(t, filepath.Join(dir, "README.md"), "# ignored")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(loaded) != 3 {
		t.Errorf("Expected 3 policies, got %d", len(loaded))
	}
}

func TestLoaderCache(t *testing.T) {
	loader := newTestLoader()
	path := filepath.Join(t.TempDir(), "cached.rego")
	writeFile(t, path, "# first\npackage cached\n")

	if _, err := loader.loadFromFile(path); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	writeFile(t, path, "# second\npackage cached\n")

	policies, _ := loader.loadFromFile(path)
	if policies[0].Description != "first" {
		t.Errorf("Expected cached description, got '%s'", policies[0].Description)
	}

	loader.ClearCache()
	policies, _ = loader.loadFromFile(path)
	if policies[0].Description != "second" {
		t.Errorf("Expected reloaded description, got '%s'", policies[0].Description)
	}
}

func TestEngineLoadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "deny-all.rego"), denyAllRego)

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	cs := changeSet([]string{"membrane,V"}, &engine.EquationDecl{
		Target: "intracellular_calcium_concentration,Cai",
		RHS:    model.Num(0.0002, "mM"),
	})
	if err := eng.CheckChangeSet(context.Background(), cs); err == nil {
		t.Error("Expected the loaded policy to deny")
	}
}

func TestWatch(t *testing.T) {
	eng := newTestEngine(t)
	loader := newTestLoader()
	loader.debounce = 20 * time.Millisecond
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan int, 4)
	err := loader.Watch(ctx, []string{dir}, func(ctx context.Context, policies []Policy) error {
		if err := eng.ReplaceCustomPolicies(ctx, policies); err != nil {
			return err
		}
		reloaded <- len(policies)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to watch: %v", err)
	}

	writeFile(t, filepath.Join(dir, "deny-all.rego"), denyAllRego)

	select {
	case n := <-reloaded:
		if n != 1 {
			t.Errorf("Expected 1 reloaded policy, got %d", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}

	if _, err := eng.GetPolicy("deny-all"); err != nil {
		t.Errorf("Expected watched policy in engine: %v", err)
	}

	if err := loader.Watch(ctx, []string{filepath.Join(dir, "missing")}, nil); err == nil {
		t.Error("Expected error watching a missing path")
	}
}
