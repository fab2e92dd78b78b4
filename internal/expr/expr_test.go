package expr

import (
	"errors"
	"math/rand"
	"testing"

	"strategos/internal/dataset"
)

func testDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.FromColumns(map[string][]float64{
		"close": {100, 101, 102, 103},
		"mom":   {-1, 0, 1, 2},
	})
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	return ds
}

func TestValidateAcceptsWellFormedTree(t *testing.T) {
	tree := Cond(
		Compare("gt", Field("mom"), Const(0)),
		Const(1),
		Const(-1),
	)
	if err := Validate(tree, nil, DefaultLimits()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsUnknownOperator(t *testing.T) {
	tree := Binary("pow", Const(2), Const(3))
	err := Validate(tree, nil, DefaultLimits())
	if !errors.Is(err, ErrUnknownOperator) {
		t.Fatalf("expected ErrUnknownOperator, got %v", err)
	}
}

func TestValidateRejectsDisallowedField(t *testing.T) {
	tree := Field("volume")
	allowed := map[string]struct{}{"close": {}}
	if err := Validate(tree, allowed, DefaultLimits()); err == nil {
		t.Fatal("expected field rejection")
	}
}

func TestValidateEnforcesNodeLimit(t *testing.T) {
	tree := Const(1)
	for i := 0; i < 40; i++ {
		tree = Binary("add", tree, Const(1))
	}
	err := Validate(tree, nil, Limits{MaxNodes: 16, MaxDepth: 64})
	if !errors.Is(err, ErrTreeTooLarge) {
		t.Fatalf("expected ErrTreeTooLarge, got %v", err)
	}
}

func TestEvalConditionAndDivideByZero(t *testing.T) {
	ds := testDataset(t)

	tree := Cond(
		Compare("ge", Field("mom"), Const(1)),
		Binary("div", Field("close"), Const(0)),
		Const(-1),
	)
	got, err := Eval(tree, ds, 2)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	// Division by zero evaluates to zero instead of failing the strategy.
	if got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}

	got, err = Eval(tree, ds, 0)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got != -1 {
		t.Fatalf("expected -1, got %v", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tree := Cond(
		Compare("lt", Field("mom"), Const(0)),
		Unary("neg", Field("close")),
		Binary("max", Field("close"), Const(50)),
	)
	raw, err := Encode(tree)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(raw, map[string]struct{}{"mom": {}, "close": {}}, DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Size() != tree.Size() || decoded.Depth() != tree.Depth() {
		t.Fatalf("round trip changed shape: size %d->%d depth %d->%d",
			tree.Size(), decoded.Size(), tree.Depth(), decoded.Depth())
	}
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	if _, err := Decode([]byte(`{"kind":"binary","op":"add"}`), nil, DefaultLimits()); err == nil {
		t.Fatal("expected malformed tree rejection")
	}
}

func TestSwapOperatorLeavesInputUntouched(t *testing.T) {
	tree := Binary("add", Field("close"), Const(1))
	rng := rand.New(rand.NewSource(7))

	mutated, err := SwapOperator(tree, rng)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if tree.Op != "add" {
		t.Fatalf("input tree mutated: op=%s", tree.Op)
	}
	if mutated.Op == "add" {
		t.Fatalf("expected a different operator, got %s", mutated.Op)
	}
	if err := Validate(mutated, nil, DefaultLimits()); err != nil {
		t.Fatalf("mutated tree invalid: %v", err)
	}
}

func TestInvertComparisonFlipsToNegation(t *testing.T) {
	tree := Compare("gt", Field("close"), Const(100))
	rng := rand.New(rand.NewSource(1))

	mutated, err := InvertComparison(tree, rng)
	if err != nil {
		t.Fatalf("invert: %v", err)
	}
	if mutated.Op != "le" {
		t.Fatalf("expected le, got %s", mutated.Op)
	}
}

func TestInvertComparisonNoSite(t *testing.T) {
	tree := Binary("add", Const(1), Const(2))
	rng := rand.New(rand.NewSource(1))

	if _, err := InvertComparison(tree, rng); !errors.Is(err, ErrNoMutationSite) {
		t.Fatalf("expected ErrNoMutationSite, got %v", err)
	}
}

func TestScaleConstantNudgesZero(t *testing.T) {
	tree := Compare("gt", Field("close"), Const(0))
	rng := rand.New(rand.NewSource(3))

	mutated, err := ScaleConstant(tree, rng, 0.25)
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	if mutated.Children[1].Value == 0 {
		t.Fatal("zero constant stayed stuck at zero")
	}
}

func TestMutationsDeterministicForFixedSeed(t *testing.T) {
	tree := Cond(
		Compare("gt", Field("mom"), Const(0.5)),
		Const(1),
		Const(-1),
	)

	first, err := SwapOperator(tree, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	second, err := SwapOperator(tree, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("swap: %v", err)
	}

	firstRaw, _ := Encode(first)
	secondRaw, _ := Encode(second)
	if string(firstRaw) != string(secondRaw) {
		t.Fatal("same seed produced different mutations")
	}
}
