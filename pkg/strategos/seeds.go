package strategos

import (
	"fmt"

	"strategos/internal/expr"
	"strategos/internal/factor"
	"strategos/internal/graph"
	"strategos/internal/model"
)

// BaselineSeeds builds the stock starting strategies: a moving-average
// crossover, a mean-reversion band strategy, and an expression-backed
// momentum rule. Every seed passes full structural validation.
func BaselineSeeds() ([]model.StrategyGraph, error) {
	crossover, err := crossoverSeed()
	if err != nil {
		return nil, fmt.Errorf("crossover seed: %w", err)
	}
	reversion, err := reversionSeed()
	if err != nil {
		return nil, fmt.Errorf("reversion seed: %w", err)
	}
	expression, err := expressionSeed()
	if err != nil {
		return nil, fmt.Errorf("expression seed: %w", err)
	}
	return []model.StrategyGraph{crossover, reversion, expression}, nil
}

func crossoverSeed() (model.StrategyGraph, error) {
	g := graph.New("seed-ma-cross", 0, nil)

	fast, err := newFactor("sma", "fast", []string{"close"}, map[string]float64{"window": 10})
	if err != nil {
		return model.StrategyGraph{}, err
	}
	slow, err := newFactor("sma", "slow", []string{"close"}, map[string]float64{"window": 40})
	if err != nil {
		return model.StrategyGraph{}, err
	}
	signal, err := newFactor("cross_signal", "entry", []string{"fast", "slow"}, nil)
	if err != nil {
		return model.StrategyGraph{}, err
	}

	if g, err = graph.AddFactor(g, fast, nil); err != nil {
		return model.StrategyGraph{}, err
	}
	if g, err = graph.AddFactor(g, slow, nil); err != nil {
		return model.StrategyGraph{}, err
	}
	if g, err = graph.AddFactor(g, signal, []string{"fast", "slow"}); err != nil {
		return model.StrategyGraph{}, err
	}
	return g, graph.Validate(g)
}

func reversionSeed() (model.StrategyGraph, error) {
	g := graph.New("seed-band-revert", 0, nil)

	band, err := newFactor("bollinger", "band", []string{"close"}, map[string]float64{"window": 20, "width": 2})
	if err != nil {
		return model.StrategyGraph{}, err
	}
	signal, err := newFactor("band_signal", "revert", []string{"close", "band_upper", "band_lower"}, nil)
	if err != nil {
		return model.StrategyGraph{}, err
	}

	if g, err = graph.AddFactor(g, band, nil); err != nil {
		return model.StrategyGraph{}, err
	}
	if g, err = graph.AddFactor(g, signal, []string{"band"}); err != nil {
		return model.StrategyGraph{}, err
	}
	return g, graph.Validate(g)
}

func expressionSeed() (model.StrategyGraph, error) {
	g := graph.New("seed-momentum-expr", 0, nil)

	mom, err := newFactor("momentum", "mom", []string{"close"}, map[string]float64{"window": 12})
	if err != nil {
		return model.StrategyGraph{}, err
	}

	// Long when momentum is positive, short when negative, scaled down.
	tree := expr.Cond(
		expr.Compare("gt", expr.Field("mom"), expr.Const(0)),
		expr.Const(0.5),
		expr.Cond(
			expr.Compare("lt", expr.Field("mom"), expr.Const(0)),
			expr.Const(-0.5),
			expr.Const(0),
		),
	)
	signal, err := factor.NewExpressionFactor("momo", tree, expr.DefaultLimits())
	if err != nil {
		return model.StrategyGraph{}, err
	}

	if g, err = graph.AddFactor(g, mom, nil); err != nil {
		return model.StrategyGraph{}, err
	}
	if g, err = graph.AddFactor(g, signal, []string{"mom"}); err != nil {
		return model.StrategyGraph{}, err
	}
	return g, graph.Validate(g)
}

func newFactor(factorType, id string, inputs []string, params map[string]float64) (model.Factor, error) {
	def, err := factor.Resolve(factorType)
	if err != nil {
		return model.Factor{}, err
	}
	return def.New(id, inputs, params)
}
