package factor

import (
	"errors"
	"math"
	"testing"

	"strategos/internal/dataset"
	"strategos/internal/expr"
	"strategos/internal/model"
)

func TestDefinitionNewFillsDefaults(t *testing.T) {
	def, err := Resolve("sma")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	f, err := def.New("trend", []string{"close"}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if f.Parameters["window"] != 20 {
		t.Fatalf("expected default window 20, got %v", f.Parameters["window"])
	}
	if len(f.Outputs) != 1 || f.Outputs[0] != "trend" {
		t.Fatalf("unexpected outputs: %v", f.Outputs)
	}
}

func TestDefinitionNewRejectsUnknownParameter(t *testing.T) {
	def, err := Resolve("sma")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	_, err = def.New("trend", []string{"close"}, map[string]float64{"lookback": 5})
	if !errors.Is(err, ErrUnknownParameter) {
		t.Fatalf("expected ErrUnknownParameter, got %v", err)
	}
}

func TestDefinitionNewRejectsOutOfRange(t *testing.T) {
	def, err := Resolve("sma")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	_, err = def.New("trend", []string{"close"}, map[string]float64{"window": 10000})
	if !errors.Is(err, ErrParameterOutOfRange) {
		t.Fatalf("expected ErrParameterOutOfRange, got %v", err)
	}
}

func TestDefinitionNewRejectsArityMismatch(t *testing.T) {
	def, err := Resolve("cross_signal")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	_, err = def.New("sig", []string{"fast"}, nil)
	if !errors.Is(err, ErrInputArity) {
		t.Fatalf("expected ErrInputArity, got %v", err)
	}
}

func TestRegistryListByCategory(t *testing.T) {
	types := ListByCategory(model.CategoryTrend)
	if len(types) < 2 {
		t.Fatalf("expected at least sma and ema, got %v", types)
	}
	for i := 1; i < len(types); i++ {
		if types[i-1] >= types[i] {
			t.Fatalf("types not sorted: %v", types)
		}
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	t.Cleanup(resetRegistryForTests)

	err := Register(Definition{
		Type:           "sma",
		Category:       model.CategoryTrend,
		InputSlots:     []string{"series"},
		OutputSuffixes: []string{""},
		Transform:      TransformFunc(applySMA),
	})
	if !errors.Is(err, ErrDefinitionExists) {
		t.Fatalf("expected ErrDefinitionExists, got %v", err)
	}
}

func TestSMATransform(t *testing.T) {
	ds, err := dataset.FromColumns(map[string][]float64{
		"close": {1, 2, 3, 4, 5},
	})
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}

	def, err := Resolve("sma")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	f, err := def.New("trend", []string{"close"}, map[string]float64{"window": 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := def.Transform.Apply(ds, f); err != nil {
		t.Fatalf("apply: %v", err)
	}

	out, err := ds.Column("trend")
	if err != nil {
		t.Fatalf("column: %v", err)
	}
	if out[4] != 4.5 {
		t.Fatalf("expected sma(2) tail 4.5, got %v", out[4])
	}
}

func TestCrossSignalEmitsPositions(t *testing.T) {
	ds, err := dataset.FromColumns(map[string][]float64{
		"fast": {1, 3, 1},
		"slow": {2, 2, 2},
	})
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}

	def, err := Resolve("cross_signal")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	f, err := def.New("sig", []string{"fast", "slow"}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if len(f.Outputs) != 1 || f.Outputs[0] != dataset.FieldPosition {
		t.Fatalf("expected position output, got %v", f.Outputs)
	}
	if err := def.Transform.Apply(ds, f); err != nil {
		t.Fatalf("apply: %v", err)
	}

	positions, err := ds.Column(dataset.FieldPosition)
	if err != nil {
		t.Fatalf("column: %v", err)
	}
	want := []float64{-1, 1, -1}
	for i := range want {
		if positions[i] != want[i] {
			t.Fatalf("row %d: expected %v, got %v", i, want[i], positions[i])
		}
	}
}

func TestExpressionFactorDerivesInputs(t *testing.T) {
	tree := expr.Cond(
		expr.Compare("gt", expr.Field("mom"), expr.Const(0)),
		expr.Const(1),
		expr.Const(-1),
	)
	f, err := NewExpressionFactor("momo", tree, expr.DefaultLimits())
	if err != nil {
		t.Fatalf("new expression factor: %v", err)
	}
	if len(f.Inputs) != 1 || f.Inputs[0] != "mom" {
		t.Fatalf("expected inputs [mom], got %v", f.Inputs)
	}
	if len(f.Expression) == 0 {
		t.Fatal("expected serialized expression")
	}
}

func TestExprSignalClampsPositions(t *testing.T) {
	ds, err := dataset.FromColumns(map[string][]float64{
		"mom": {10, -10},
	})
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}

	tree := expr.Binary("mul", expr.Field("mom"), expr.Const(3))
	f, err := NewExpressionFactor("momo", tree, expr.DefaultLimits())
	if err != nil {
		t.Fatalf("new expression factor: %v", err)
	}
	if err := applyExprSignal(ds, f); err != nil {
		t.Fatalf("apply: %v", err)
	}

	positions, err := ds.Column(dataset.FieldPosition)
	if err != nil {
		t.Fatalf("column: %v", err)
	}
	if math.Abs(positions[0]) != 1 || math.Abs(positions[1]) != 1 {
		t.Fatalf("positions not clamped: %v", positions)
	}
}
