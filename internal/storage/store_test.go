package storage

import (
	"context"
	"testing"

	"strategos/internal/model"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func TestMemoryStoreStrategyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveStrategy(ctx, sampleStrategy()); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := store.GetStrategy(ctx, "s0-deadbeef")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Generation != 3 {
		t.Fatalf("unexpected strategy: %+v", got)
	}

	_, ok, err = store.GetStrategy(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("missing strategy: ok=%v err=%v", ok, err)
	}
}

func TestMemoryStoreCheckpointKeyedByRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := model.Checkpoint{RunID: "run-1", Population: model.Population{Generation: 1}}
	second := model.Checkpoint{RunID: "run-1", Population: model.Population{Generation: 2}}
	if err := store.SaveCheckpoint(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveCheckpoint(ctx, second); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := store.GetCheckpoint(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Population.Generation != 2 {
		t.Fatalf("expected the latest checkpoint, got generation %d", got.Population.Generation)
	}
}

func TestMemoryStoreChampionPerRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	champion := model.Champion{Strategy: sampleStrategy(), Metrics: model.Metrics{Sharpe: 2}}
	if err := store.SaveChampion(ctx, "run-1", champion); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := store.GetChampion(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Metrics.Sharpe != 2 {
		t.Fatalf("unexpected champion: %+v", got)
	}

	_, ok, _ = store.GetChampion(ctx, "run-2")
	if ok {
		t.Fatal("champion leaked across runs")
	}
}

func TestMemoryStoreMutationLogCopiesSlices(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	records := []model.MutationRecord{{Tier: 1, Operation: "tier1_config", Success: true}}
	if err := store.SaveMutationLog(ctx, "run-1", records); err != nil {
		t.Fatalf("save: %v", err)
	}
	records[0].Operation = "mutated-after-save"

	got, ok, err := store.GetMutationLog(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got[0].Operation != "tier1_config" {
		t.Fatal("store aliased the caller's slice")
	}

	got[0].Operation = "mutated-after-get"
	again, _, _ := store.GetMutationLog(ctx, "run-1")
	if again[0].Operation != "tier1_config" {
		t.Fatal("get leaked internal state")
	}
}

func TestMemoryStoreLineageAndDiagnostics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lineage := []model.LineageRecord{{StrategyID: "child", ParentIDs: []string{"parent"}, Generation: 1, Operation: "tier2_add_factor"}}
	diagnostics := []model.GenerationDiagnostics{{Generation: 0, BestSharpe: 1.2, FrontSize: 3}}

	if err := store.SaveLineage(ctx, "run-1", lineage); err != nil {
		t.Fatalf("save lineage: %v", err)
	}
	if err := store.SaveGenerationDiagnostics(ctx, "run-1", diagnostics); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}

	gotLineage, ok, err := store.GetLineage(ctx, "run-1")
	if err != nil || !ok || len(gotLineage) != 1 || gotLineage[0].StrategyID != "child" {
		t.Fatalf("lineage round trip: ok=%v err=%v got=%+v", ok, err, gotLineage)
	}
	gotDiag, ok, err := store.GetGenerationDiagnostics(ctx, "run-1")
	if err != nil || !ok || len(gotDiag) != 1 || gotDiag[0].BestSharpe != 1.2 {
		t.Fatalf("diagnostics round trip: ok=%v err=%v got=%+v", ok, err, gotDiag)
	}
}

func TestNewStoreSelectsBackend(t *testing.T) {
	store, err := NewStore("", "")
	if err != nil {
		t.Fatalf("default backend: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	if _, err := NewStore("memory", ""); err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, err := NewStore("redis", ""); err == nil {
		t.Fatal("unsupported backend accepted")
	}
}

func TestCloseIfSupportedIgnoresMemoryStore(t *testing.T) {
	if err := CloseIfSupported(newTestStore(t)); err != nil {
		t.Fatalf("close: %v", err)
	}
}
