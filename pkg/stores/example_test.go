package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/cellxform/cellxform/pkg/engine"
	"github.com/cellxform/cellxform/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:", // Use in-memory database for example
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_CompleteRun records a run and its outcome.
func ExampleSQLiteStore_CompleteRun() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	run := &stores.Run{
		ID:        "run-001",
		ModelPath: "models/luo_rudy_1991.cue",
		Status:    engine.RunStatusRunning,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		log.Fatal(err)
	}

	report := &engine.Report{ID: "run-001", Status: engine.RunStatusDenied, Stage: "policy", Error: "bound variable redefined"}
	if err := store.CompleteRun(ctx, report); err != nil {
		log.Fatal(err)
	}

	got, _ := store.GetRun(ctx, "run-001")
	fmt.Println(got.Status, *got.Stage)
	// Output: denied policy
}
