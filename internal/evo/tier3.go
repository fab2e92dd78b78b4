package evo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"strategos/internal/expr"
	"strategos/internal/graph"
	"strategos/internal/model"
)

// LogicMutation is the Tier-3 operator: it rewrites the expression tree of
// an expression-backed signal factor through the closed mutation set. Trees
// are decoded, mutated on a clone, re-validated against the operator
// allow-list and size limits, and re-encoded. Graphs without an expression
// factor cannot take a Tier-3 mutation.
type LogicMutation struct {
	// ConstSpread scales constant mutations; zero falls back to 0.25.
	ConstSpread float64
	// Limits bound mutated trees; zero value falls back to the defaults.
	Limits expr.Limits
}

func (LogicMutation) Name() string { return "tier3_logic" }
func (LogicMutation) Tier() int    { return 3 }

func (op LogicMutation) Apply(ctx context.Context, rng *rand.Rand, g model.StrategyGraph) (model.StrategyGraph, model.MutationRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.StrategyGraph{}, rejected(op, "", err), err
	}

	var targets []string
	for id, f := range g.Factors {
		if len(f.Expression) > 0 {
			targets = append(targets, id)
		}
	}
	sort.Strings(targets)
	if len(targets) == 0 {
		return model.StrategyGraph{}, rejected(op, "", ErrNoMutationChoice), ErrNoMutationChoice
	}

	id := targets[rng.Intn(len(targets))]
	target := g.Factors[id]

	limits := op.Limits
	if limits.MaxNodes == 0 && limits.MaxDepth == 0 {
		limits = expr.DefaultLimits()
	}
	allowed := make(map[string]struct{}, len(target.Inputs))
	for _, input := range target.Inputs {
		allowed[input] = struct{}{}
	}
	tree, err := expr.Decode(target.Expression, allowed, limits)
	if err != nil {
		return model.StrategyGraph{}, rejected(op, id, err), err
	}

	mutated, mutation, err := op.mutateTree(tree, rng)
	if err != nil {
		return model.StrategyGraph{}, rejected(op, id, err), err
	}
	if err := expr.Validate(mutated, allowed, limits); err != nil {
		return model.StrategyGraph{}, rejected(op, id, err), err
	}
	encoded, err := expr.Encode(mutated)
	if err != nil {
		return model.StrategyGraph{}, rejected(op, id, err), err
	}

	next := graph.Clone(g)
	replacement := next.Factors[id]
	replacement.Expression = encoded
	next.Factors[id] = replacement
	if err := graph.Validate(next); err != nil {
		return model.StrategyGraph{}, rejected(op, id, err), err
	}

	record := applied(op, id)
	record.Operation = fmt.Sprintf("%s:%s", op.Name(), mutation)
	return next, record, nil
}

// mutateTree tries the expression mutations in a random order and returns
// the first that finds a site. A tree offering no site at all is a
// rejection, not an error in the tree.
func (op LogicMutation) mutateTree(tree *expr.Node, rng *rand.Rand) (*expr.Node, string, error) {
	spread := op.ConstSpread
	if spread <= 0 {
		spread = 0.25
	}

	mutations := []string{expr.MutationOperatorSwap, expr.MutationInvertComparison, expr.MutationScaleConstant}
	for _, i := range rng.Perm(len(mutations)) {
		var (
			mutated *expr.Node
			err     error
		)
		switch mutations[i] {
		case expr.MutationOperatorSwap:
			mutated, err = expr.SwapOperator(tree, rng)
		case expr.MutationInvertComparison:
			mutated, err = expr.InvertComparison(tree, rng)
		case expr.MutationScaleConstant:
			mutated, err = expr.ScaleConstant(tree, rng, spread)
		}
		if err == nil {
			return mutated, mutations[i], nil
		}
		if !errors.Is(err, expr.ErrNoMutationSite) {
			return nil, "", err
		}
	}
	return nil, "", ErrNoMutationChoice
}
