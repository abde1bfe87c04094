package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cellxform/cellxform/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Error("expected migrate to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "run_events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// A second migration is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("expected repeated migration to succeed, got: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Second).Round(time.Millisecond)
	run := &Run{
		ID:           "run-001",
		Model:        "luo_rudy_1991",
		ModelPath:    "models/luo_rudy_1991.cue",
		ProtocolPath: "protocols/clamp.yaml",
		Status:       engine.RunStatusRunning,
		StartedAt:    started,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	got, err := store.GetRun(ctx, "run-001")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != engine.RunStatusRunning || got.ModelPath != run.ModelPath || got.Summary != "{}" {
		t.Errorf("unexpected run %+v", got)
	}
	if got.CompletedAt != nil || got.Error != nil {
		t.Errorf("expected open run, got completed=%v error=%v", got.CompletedAt, got.Error)
	}

	report := &engine.Report{
		ID:        "run-001",
		Model:     "luo_rudy_1991",
		Status:    engine.RunStatusFailed,
		Stage:     "substitute",
		Error:     "interface mismatch",
		StartedAt: started,
		Duration:  250 * time.Millisecond,
	}
	if err := store.CompleteRun(ctx, report); err != nil {
		t.Fatalf("failed to complete run: %v", err)
	}

	got, err = store.GetRun(ctx, "run-001")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != engine.RunStatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || *got.Error != "interface mismatch" {
		t.Errorf("expected error message, got %v", got.Error)
	}
	if got.Stage == nil || *got.Stage != "substitute" {
		t.Errorf("expected substitute stage, got %v", got.Stage)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if got.Summary == "{}" {
		t.Error("expected report summary")
	}
}

func TestRunErrors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got: %v", err)
	}
	if err := store.DeleteRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got: %v", err)
	}
	report := &engine.Report{ID: "missing", Status: engine.RunStatusSucceeded}
	if err := store.CompleteRun(ctx, report); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got: %v", err)
	}
	if err := store.CompleteRun(ctx, &engine.Report{ID: "x", Status: engine.RunStatusRunning}); err == nil {
		t.Error("expected error completing a running report")
	}
	if err := store.CreateRun(ctx, &Run{ID: "bad", ModelPath: "m", Status: "exploded"}); err == nil {
		t.Error("expected error for invalid status")
	}
	if err := store.CreateRun(ctx, &Run{ID: "dup", ModelPath: "m", Status: engine.RunStatusRunning}); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := store.CreateRun(ctx, &Run{ID: "dup", ModelPath: "m", Status: engine.RunStatusRunning}); err == nil {
		t.Error("expected error for duplicate run ID")
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	statuses := []engine.RunStatus{
		engine.RunStatusSucceeded,
		engine.RunStatusFailed,
		engine.RunStatusSucceeded,
		engine.RunStatusRunning,
	}
	for i, status := range statuses {
		run := &Run{
			ID:        string(rune('a' + i)),
			ModelPath: "m.cue",
			Status:    status,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
	}

	all, err := store.ListRuns(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 runs, got %d", len(all))
	}
	if all[0].ID != "d" || all[3].ID != "a" {
		t.Errorf("expected newest first, got %s..%s", all[0].ID, all[3].ID)
	}

	succeeded := engine.RunStatusSucceeded
	filtered, err := store.ListRuns(ctx, &succeeded, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(filtered) != 2 || filtered[0].ID != "c" || filtered[1].ID != "a" {
		t.Errorf("expected runs c and a, got %d runs", len(filtered))
	}

	page, err := store.ListRuns(ctx, nil, 2, 2)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(page) != 2 || page[0].ID != "b" {
		t.Errorf("expected second page to start at b, got %d runs", len(page))
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, &Run{ID: "run-1", ModelPath: "m.cue", Status: engine.RunStatusRunning}); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	data := `{"direction":"up"}`
	events := []*RunEvent{
		{RunID: "run-1", Type: engine.EventHopCreated, Stage: "connect", Name: "a,x", Message: "created hop", Data: &data},
		{RunID: "run-1", Type: engine.EventSliceDetached, Stage: "slice", Level: EventLevelDebug, Message: "detached"},
		{RunID: "run-1", Type: engine.EventApplyDone, Stage: "apply", Message: "done"},
	}
	for _, ev := range events {
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if ev.ID == 0 {
			t.Error("expected event ID to be set")
		}
	}

	got, err := store.GetEvents(ctx, "run-1", nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Type != engine.EventHopCreated || got[0].Data == nil || *got[0].Data != data {
		t.Errorf("unexpected first event %+v", got[0])
	}
	if got[2].Level != EventLevelInfo {
		t.Errorf("expected default info level, got %s", got[2].Level)
	}

	debug := EventLevelDebug
	got, err = store.GetEvents(ctx, "run-1", &debug, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(got) != 1 || got[0].Stage != "slice" {
		t.Errorf("expected the debug slice event, got %d events", len(got))
	}

	if err := store.AppendEvent(ctx, &RunEvent{RunID: "missing", Type: "x", Message: "orphan"}); err == nil {
		t.Error("expected foreign key error for unknown run")
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	got, err = store.GetEvents(ctx, "run-1", nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected events to cascade, got %d", len(got))
	}
}
