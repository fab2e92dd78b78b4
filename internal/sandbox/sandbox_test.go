package sandbox

import (
	"context"
	"testing"
	"time"

	"strategos/internal/dataset"
	"strategos/internal/expr"
)

func encodeTree(t *testing.T, tree *expr.Node) []byte {
	t.Helper()
	raw, err := expr.Encode(tree)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return raw
}

func TestExecuteEvaluatesPerRow(t *testing.T) {
	ds, err := dataset.FromColumns(map[string][]float64{
		"close": {10, 20, 30},
	})
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}

	tree := expr.Binary("mul", expr.Field("close"), expr.Const(2))
	exec := NewLocalExecutor(DefaultLimits())

	out, err := exec.Execute(context.Background(), encodeTree(t, tree), ds)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := []float64{20, 40, 60}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("row %d: expected %v, got %v", i, want[i], out[i])
		}
	}
}

func TestExecuteRejectsUnknownField(t *testing.T) {
	ds, err := dataset.FromColumns(map[string][]float64{
		"close": {1, 2},
	})
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}

	tree := expr.Field("sentiment")
	if _, err := NewLocalExecutor(DefaultLimits()).Execute(context.Background(), encodeTree(t, tree), ds); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestExecuteRejectsMalformedPayload(t *testing.T) {
	ds, err := dataset.FromColumns(map[string][]float64{
		"close": {1, 2},
	})
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}

	if _, err := NewLocalExecutor(DefaultLimits()).Execute(context.Background(), []byte(`{"kind": `), ds); err == nil {
		t.Fatal("malformed payload accepted")
	}
}

func TestExecuteEnforcesNodeLimit(t *testing.T) {
	ds, err := dataset.FromColumns(map[string][]float64{
		"close": {1, 2},
	})
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}

	tree := expr.Binary("add", expr.Field("close"), expr.Const(1))
	exec := NewLocalExecutor(Limits{MaxNodes: 2, MaxDepth: 8, Timeout: time.Second})
	if _, err := exec.Execute(context.Background(), encodeTree(t, tree), ds); err == nil {
		t.Fatal("oversize tree accepted")
	}
}

func TestExecuteHonorsCancelledContext(t *testing.T) {
	ds, err := dataset.FromColumns(map[string][]float64{
		"close": {1, 2, 3},
	})
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tree := expr.Const(1)
	if _, err := NewLocalExecutor(DefaultLimits()).Execute(ctx, encodeTree(t, tree), ds); err == nil {
		t.Fatal("cancelled context accepted")
	}
}

func TestLimitsFallBackToDefaults(t *testing.T) {
	l := Limits{}.withDefaults()
	def := DefaultLimits()
	if l != def {
		t.Fatalf("zero limits did not default: %+v vs %+v", l, def)
	}

	custom := Limits{MaxNodes: 10, MaxDepth: 4, Timeout: time.Second}.withDefaults()
	if custom.MaxNodes != 10 || custom.MaxDepth != 4 || custom.Timeout != time.Second {
		t.Fatalf("explicit limits overridden: %+v", custom)
	}
}
