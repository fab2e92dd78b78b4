package evo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"strategos/internal/expr"
	"strategos/internal/factor"
	"strategos/internal/graph"
	"strategos/internal/model"
)

func crossGraph(t *testing.T) model.StrategyGraph {
	t.Helper()
	g := graph.New("cross", 0, nil)

	var err error
	g, err = graph.AddFactor(g, mustBuild(t, "sma", "fast", []string{"close"}, map[string]float64{"window": 5}), nil)
	if err != nil {
		t.Fatalf("add fast: %v", err)
	}
	g, err = graph.AddFactor(g, mustBuild(t, "sma", "slow", []string{"close"}, map[string]float64{"window": 20}), nil)
	if err != nil {
		t.Fatalf("add slow: %v", err)
	}
	g, err = graph.AddFactor(g, mustBuild(t, "cross_signal", "sig", []string{"fast", "slow"}, nil), []string{"fast", "slow"})
	if err != nil {
		t.Fatalf("add sig: %v", err)
	}
	if err := graph.Validate(g); err != nil {
		t.Fatalf("validate: %v", err)
	}
	return g
}

func exprGraph(t *testing.T) model.StrategyGraph {
	t.Helper()
	g := graph.New("expr", 0, nil)

	var err error
	g, err = graph.AddFactor(g, mustBuild(t, "momentum", "mom", []string{"close"}, map[string]float64{"window": 12}), nil)
	if err != nil {
		t.Fatalf("add mom: %v", err)
	}

	tree := expr.Cond(
		expr.Compare("gt", expr.Field("mom"), expr.Const(0)),
		expr.Const(1),
		expr.Const(-1),
	)
	signal, err := factor.NewExpressionFactor("momo", tree, expr.DefaultLimits())
	if err != nil {
		t.Fatalf("expression factor: %v", err)
	}
	g, err = graph.AddFactor(g, signal, []string{"mom"})
	if err != nil {
		t.Fatalf("add momo: %v", err)
	}
	if err := graph.Validate(g); err != nil {
		t.Fatalf("validate: %v", err)
	}
	return g
}

func mustBuild(t *testing.T, factorType, id string, inputs []string, params map[string]float64) model.Factor {
	t.Helper()
	def, err := factor.Resolve(factorType)
	if err != nil {
		t.Fatalf("resolve %s: %v", factorType, err)
	}
	f, err := def.New(id, inputs, params)
	if err != nil {
		t.Fatalf("build %s: %v", id, err)
	}
	return f
}

func TestParseConfigPayloadSchemaErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"malformed", `{"factor_id": `},
		{"unknown field", `{"factor_id": "fast", "parameters": {"window": 10}, "code": "x"}`},
		{"missing factor id", `{"parameters": {"window": 10}}`},
		{"empty parameters", `{"factor_id": "fast"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfigPayload([]byte(tc.raw))
			var schema *SchemaError
			if !errors.As(err, &schema) {
				t.Fatalf("expected SchemaError, got %v", err)
			}
		})
	}
}

func TestApplyConfigPayloadValidatesAgainstDefinition(t *testing.T) {
	g := crossGraph(t)

	cases := []struct {
		name    string
		payload ConfigPayload
	}{
		{"unknown factor", ConfigPayload{FactorID: "ghost", Parameters: map[string]float64{"window": 10}}},
		{"unknown parameter", ConfigPayload{FactorID: "fast", Parameters: map[string]float64{"lookback": 10}}},
		{"out of range", ConfigPayload{FactorID: "fast", Parameters: map[string]float64{"window": 1e9}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ApplyConfigPayload(g, tc.payload)
			var schema *SchemaError
			if !errors.As(err, &schema) {
				t.Fatalf("expected SchemaError, got %v", err)
			}
		})
	}

	// The rejected attempts never touched the graph.
	if g.Factors["fast"].Parameters["window"] != 5 {
		t.Fatalf("original graph mutated: %v", g.Factors["fast"].Parameters)
	}
}

func TestApplyConfigPayloadOverridesParameter(t *testing.T) {
	g := crossGraph(t)

	next, err := ApplyConfigPayload(g, ConfigPayload{
		FactorID:   "fast",
		Parameters: map[string]float64{"window": 8},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if next.Factors["fast"].Parameters["window"] != 8 {
		t.Fatalf("override not applied: %v", next.Factors["fast"].Parameters)
	}
	if g.Factors["fast"].Parameters["window"] != 5 {
		t.Fatalf("original graph mutated: %v", g.Factors["fast"].Parameters)
	}
}

func TestConfigMutationApplies(t *testing.T) {
	g := crossGraph(t)
	rng := rand.New(rand.NewSource(7))

	next, record, err := ConfigMutation{}.Apply(context.Background(), rng, g)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !record.Success || record.Tier != 1 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if err := graph.Validate(next); err != nil {
		t.Fatalf("mutated graph invalid: %v", err)
	}
}

type fixedProposer struct {
	raw []byte
	err error
}

func (p fixedProposer) ProposeConfig(context.Context, MutationContext) ([]byte, error) {
	return p.raw, p.err
}

type capturingProposer struct {
	seen []MutationContext
}

func (p *capturingProposer) ProposeConfig(_ context.Context, mc MutationContext) ([]byte, error) {
	p.seen = append(p.seen, mc)
	return []byte(`{"factor_id": "slow", "parameters": {"window": 30}}`), nil
}

func TestGuidedConfigMutationAppliesProposal(t *testing.T) {
	g := crossGraph(t)
	op := GuidedConfigMutation{Proposer: fixedProposer{
		raw: []byte(`{"factor_id": "slow", "parameters": {"window": 30}}`),
	}}

	next, record, err := op.Apply(context.Background(), rand.New(rand.NewSource(1)), g)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if record.TargetFactorID != "slow" {
		t.Fatalf("unexpected target: %+v", record)
	}
	if next.Factors["slow"].Parameters["window"] != 30 {
		t.Fatalf("proposal not applied: %v", next.Factors["slow"].Parameters)
	}
}

func TestGuidedConfigMutationWrapsProposerFailure(t *testing.T) {
	g := crossGraph(t)
	op := GuidedConfigMutation{Proposer: fixedProposer{err: errors.New("model timeout")}}

	_, record, err := op.Apply(context.Background(), rand.New(rand.NewSource(1)), g)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if record.Success {
		t.Fatalf("rejected attempt recorded as success: %+v", record)
	}
}

func TestGuidedConfigMutationPassesHistoryToProposer(t *testing.T) {
	g := crossGraph(t)
	history := &ProposerHistory{}
	history.observe(model.Metrics{Sharpe: 1.3})
	history.reject("graph validation: orphan factor")
	history.reject("") // empty reasons are dropped

	proposer := &capturingProposer{}
	op := GuidedConfigMutation{Proposer: proposer, History: history}
	if _, _, err := op.Apply(context.Background(), rand.New(rand.NewSource(1)), g); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if len(proposer.seen) != 1 {
		t.Fatalf("expected one proposal, got %d", len(proposer.seen))
	}
	mc := proposer.seen[0]
	if mc.PriorMetrics.Sharpe != 1.3 {
		t.Fatalf("prior metrics not threaded: %+v", mc.PriorMetrics)
	}
	if len(mc.PriorRejections) != 1 || mc.PriorRejections[0] != "graph validation: orphan factor" {
		t.Fatalf("prior rejections not threaded: %v", mc.PriorRejections)
	}
	if len(mc.Graph.Factors) != len(g.Factors) {
		t.Fatalf("graph not threaded: %+v", mc.Graph)
	}
}

func TestGuidedConfigMutationWithoutHistory(t *testing.T) {
	g := crossGraph(t)
	proposer := &capturingProposer{}
	op := GuidedConfigMutation{Proposer: proposer}

	if _, _, err := op.Apply(context.Background(), rand.New(rand.NewSource(1)), g); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if mc := proposer.seen[0]; len(mc.PriorRejections) != 0 || mc.PriorMetrics != (model.Metrics{}) {
		t.Fatalf("expected a bare context, got %+v", mc)
	}
}

func TestProposerHistoryBoundsRejections(t *testing.T) {
	history := &ProposerHistory{}
	for i := 0; i < maxPriorRejections+5; i++ {
		history.reject(fmt.Sprintf("reason %d", i))
	}
	mc := history.contextFor(model.StrategyGraph{})
	if len(mc.PriorRejections) != maxPriorRejections {
		t.Fatalf("expected %d retained rejections, got %d", maxPriorRejections, len(mc.PriorRejections))
	}
	if mc.PriorRejections[len(mc.PriorRejections)-1] != fmt.Sprintf("reason %d", maxPriorRejections+4) {
		t.Fatalf("oldest rejections should be evicted first: %v", mc.PriorRejections)
	}
}

func TestAddFactorLeavesParentUntouched(t *testing.T) {
	g := crossGraph(t)
	rng := rand.New(rand.NewSource(3))

	// AddFactor can legitimately reject a draw (an orphan insertion, say);
	// retry a few seeds and require at least one success.
	for seed := int64(0); seed < 32; seed++ {
		rng = rand.New(rand.NewSource(seed))
		next, record, err := AddFactor{}.Apply(context.Background(), rng, g)
		if err != nil {
			continue
		}
		if len(next.Factors) != len(g.Factors)+1 {
			t.Fatalf("expected one new factor, got %d -> %d", len(g.Factors), len(next.Factors))
		}
		if err := graph.Validate(next); err != nil {
			t.Fatalf("mutated graph invalid: %v", err)
		}
		if len(g.Factors) != 3 {
			t.Fatalf("original graph mutated: %v", g.Factors)
		}
		if !record.Success {
			t.Fatalf("success with failed record: %+v", record)
		}
		return
	}
	t.Fatal("add_factor never succeeded across 32 seeds")
}

func TestRemoveFactorSplicesChain(t *testing.T) {
	g := crossGraph(t)

	next, record, err := RemoveFactor{}.Apply(context.Background(), rand.New(rand.NewSource(2)), g)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(next.Factors) != len(g.Factors)-1 {
		t.Fatalf("expected one fewer factor, got %d", len(next.Factors))
	}
	if err := graph.Validate(next); err != nil {
		t.Fatalf("spliced graph invalid: %v", err)
	}

	// The signal now reads the removed factor's source field directly.
	sig := next.Factors["sig"]
	found := false
	for _, input := range sig.Inputs {
		if input == "close" {
			found = true
		}
	}
	if !found {
		t.Fatalf("signal inputs not rewired: %v", sig.Inputs)
	}
	if _, still := g.Factors[record.TargetFactorID]; !still {
		t.Fatal("original graph mutated")
	}
}

func TestRemoveFactorRejectsWithoutCandidates(t *testing.T) {
	// A lone expression signal has no spliceable intermediate.
	g := graph.New("bare", 0, nil)
	tree := expr.Cond(
		expr.Compare("gt", expr.Field("close"), expr.Const(0)),
		expr.Const(1),
		expr.Const(-1),
	)
	signal, err := factor.NewExpressionFactor("sig", tree, expr.DefaultLimits())
	if err != nil {
		t.Fatalf("expression factor: %v", err)
	}
	g, err = graph.AddFactor(g, signal, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	_, _, err = RemoveFactor{}.Apply(context.Background(), rand.New(rand.NewSource(1)), g)
	if !errors.Is(err, ErrNoMutationChoice) {
		t.Fatalf("expected ErrNoMutationChoice, got %v", err)
	}
}

func TestReplaceFactorSwapsWithinCategory(t *testing.T) {
	g := crossGraph(t)

	next, record, err := ReplaceFactor{}.Apply(context.Background(), rand.New(rand.NewSource(5)), g)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := graph.Validate(next); err != nil {
		t.Fatalf("mutated graph invalid: %v", err)
	}

	replaced := next.Factors[record.TargetFactorID]
	original := g.Factors[record.TargetFactorID]
	if replaced.Type == original.Type {
		t.Fatalf("type not swapped: %s", replaced.Type)
	}
	if replaced.Category != original.Category {
		t.Fatalf("category changed: %s -> %s", original.Category, replaced.Category)
	}
	if replaced.ID != original.ID {
		t.Fatalf("factor id changed: %s -> %s", original.ID, replaced.ID)
	}
}

func TestReparameterizeStaysInRange(t *testing.T) {
	g := crossGraph(t)
	def, err := factor.Resolve("sma")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	spec, ok := def.ParamSpecFor("window")
	if !ok {
		t.Fatal("sma has no window parameter")
	}

	for seed := int64(0); seed < 50; seed++ {
		next, record, err := Reparameterize{}.Apply(context.Background(), rand.New(rand.NewSource(seed)), g)
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		value := next.Factors[record.TargetFactorID].Parameters["window"]
		if value < spec.Min || value > spec.Max {
			t.Fatalf("seed %d: %v escaped [%v, %v]", seed, value, spec.Min, spec.Max)
		}
	}
	if g.Factors["fast"].Parameters["window"] != 5 {
		t.Fatal("original graph mutated")
	}
}

func TestLogicMutationRewritesExpression(t *testing.T) {
	g := exprGraph(t)

	next, record, err := LogicMutation{}.Apply(context.Background(), rand.New(rand.NewSource(11)), g)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !strings.HasPrefix(record.Operation, "tier3_logic:") {
		t.Fatalf("operation missing mutation suffix: %q", record.Operation)
	}
	if err := graph.Validate(next); err != nil {
		t.Fatalf("mutated graph invalid: %v", err)
	}
	if string(next.Factors["momo"].Expression) == string(g.Factors["momo"].Expression) {
		t.Fatal("expression unchanged")
	}
}

func TestLogicMutationRejectsWithoutExpression(t *testing.T) {
	g := crossGraph(t)

	_, _, err := LogicMutation{}.Apply(context.Background(), rand.New(rand.NewSource(1)), g)
	if !errors.Is(err, ErrNoMutationChoice) {
		t.Fatalf("expected ErrNoMutationChoice, got %v", err)
	}
}

func TestTierSelectorDeterministicUnderSeed(t *testing.T) {
	selector := DefaultTierSelector()
	state := SelectorState{Diversity: 0.5}

	draw := func() []int {
		rng := rand.New(rand.NewSource(42))
		out := make([]int, 20)
		for i := range out {
			out[i] = selector.Select(rng, state)
		}
		return out
	}

	first := draw()
	second := draw()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("tier sequence diverged at %d: %v vs %v", i, first, second)
		}
	}
}

func TestTierSelectorAdaptsWeights(t *testing.T) {
	selector := DefaultTierSelector()

	calm := selector.Weights(SelectorState{Diversity: 0.5})
	collapsed := selector.Weights(SelectorState{Diversity: 0.01})
	if collapsed[1] <= calm[1] || collapsed[2] <= calm[2] {
		t.Fatalf("low diversity should boost structural tiers: %v vs %v", calm, collapsed)
	}

	stalled := selector.Weights(SelectorState{Diversity: 0.5, SinceImprovement: 10})
	if stalled[2] <= calm[2] {
		t.Fatalf("stagnation should boost logic tier: %v vs %v", calm, stalled)
	}
}

func TestNewTierSelectorRejectsBadWeights(t *testing.T) {
	if _, err := NewTierSelector([3]float64{-1, 1, 1}, 0.1, 5); err == nil {
		t.Fatal("negative weight accepted")
	}
	if _, err := NewTierSelector([3]float64{0, 0, 0}, 0.1, 5); err == nil {
		t.Fatal("zero-sum weights accepted")
	}
	if _, err := NewTierSelector([3]float64{1, 1, 1}, 2, 5); err == nil {
		t.Fatal("diversity floor above 1 accepted")
	}
}
