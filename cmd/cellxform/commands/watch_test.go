package commands

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cellxform/cellxform/pkg/settings"
	"github.com/cellxform/cellxform/pkg/telemetry"
)

// syncBuffer is a bytes.Buffer safe for one writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestApp(t *testing.T, dir string, out *syncBuffer) *app {
	t.Helper()
	s := settings.DefaultSettings()
	s.Store.Path = filepath.Join(dir, "watch.db")
	s.Telemetry.Logging.Level = "error"
	s.Watch.Debounce = 20 * time.Millisecond
	s.Watch.ServeMetrics = false

	tel, err := telemetry.NewTelemetry(&s.Telemetry)
	if err != nil {
		t.Fatalf("Failed to create telemetry: %v", err)
	}
	return &app{settings: s, telemetry: tel, out: out}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunWatch(t *testing.T) {
	dir, modelPath, protocolPath := workspace(t)
	out := &syncBuffer{}
	a := newTestApp(t, dir, out)

	ctx, cancel := context.WithCancel(a.telemetry.WithContext(context.Background()))
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runWatch(ctx, a, applyOptions{modelPath: modelPath, protocolPath: protocolPath, outFormat: "yaml"})
	}()

	reports := func() int { return strings.Count(out.String(), "status: ") }
	waitFor(t, "initial run", func() bool { return reports() >= 1 })

	// A protocol that cannot apply is reported and the watch continues.
	writeFile(t, dir, "clamp.yaml", "inputs:\n  - equation: {target: \"cell,k\", rhs: \"cell.missing\"}\n")
	waitFor(t, "failing run", func() bool { return reports() >= 2 })

	writeFile(t, dir, "clamp.yaml", clampProtocol)
	waitFor(t, "recovered run", func() bool { return reports() >= 3 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for watch to stop")
	}

	output := out.String()
	if strings.Count(output, "---\n") < 2 {
		t.Errorf("Expected reports separated by ---, got:\n%s", output)
	}
	if !strings.Contains(output, "status: failed") {
		t.Errorf("Expected the failed run in the output:\n%s", output)
	}

	reg := a.telemetry.Metrics.Registry()
	if n := testutil.CollectAndCount(reg, "cellxform_watch_reloads_total"); n != 2 {
		t.Errorf("Expected success and failure reload series, got %d", n)
	}
	if n := testutil.CollectAndCount(reg, "cellxform_transformations_total"); n != 2 {
		t.Errorf("Expected succeeded and failed transformation series, got %d", n)
	}
}
