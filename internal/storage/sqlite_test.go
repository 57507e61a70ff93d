//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"rsgnet/internal/model"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "rsgnet.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	for _, s := range []model.Snapshot{
		testSnapshot("b", "run-1", "2026-01-02T00:00:00Z"),
		testSnapshot("a", "run-1", "2026-01-01T00:00:00Z"),
		testSnapshot("c", "run-2", "2026-01-03T00:00:00Z"),
	} {
		if err := store.SaveSnapshot(ctx, s); err != nil {
			t.Fatalf("save snapshot: %v", err)
		}
	}
	loaded, ok, err := store.GetSnapshot(ctx, "a")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if !ok || loaded.Tensors[0].Data[2] != 3 {
		t.Fatalf("unexpected snapshot loaded: ok=%v %+v", ok, loaded)
	}
	run1, err := store.ListSnapshots(ctx, "run-1")
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(run1) != 2 || run1[0].ID != "a" {
		t.Fatalf("unexpected run-1 snapshots: %+v", run1)
	}
	all, err := store.ListSnapshots(ctx, "")
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unexpected snapshot count: %d", len(all))
	}

	history := []model.LossRecord{{Epoch: 0, Step: 2, TrainLoss: 1.5, LR: 0.1}}
	if err := store.SaveLossHistory(ctx, "run-1", history); err != nil {
		t.Fatalf("save history: %v", err)
	}
	loadedHistory, ok, err := store.GetLossHistory(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get history: ok=%v err=%v", ok, err)
	}
	if len(loadedHistory) != 1 || loadedHistory[0].TrainLoss != 1.5 {
		t.Fatalf("unexpected history: %+v", loadedHistory)
	}

	summary := model.RunSummary{VersionedRecord: CurrentVersion(), RunID: "run-1", CreatedAtUTC: "2026-01-01T00:00:00Z", Optimizer: "adam", Losses: []string{"mse"}, BestSnapshotID: "a"}
	if err := store.SaveRunSummary(ctx, summary); err != nil {
		t.Fatalf("save run: %v", err)
	}
	runs, err := store.ListRunSummaries(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].BestSnapshotID != "a" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	if _, ok, err := store.GetRunSummary(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run: ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "x.db"))
	if _, _, err := store.GetSnapshot(context.Background(), "a"); err == nil {
		t.Fatal("expected error before init")
	}
}
