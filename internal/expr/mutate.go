package expr

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrNoMutationSite means the tree offers no node the requested mutation can
// target; callers record the rejection and leave the tree untouched.
var ErrNoMutationSite = errors.New("no mutation site in expression tree")

// Mutation names, used in mutation audit records.
const (
	MutationOperatorSwap     = "operator_swap"
	MutationInvertComparison = "invert_comparison"
	MutationScaleConstant    = "scale_constant"
)

// SwapOperator replaces one randomly chosen operator with a different
// operator of the same kind and arity. The input tree is never modified.
func SwapOperator(root *Node, rng *rand.Rand) (*Node, error) {
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	mutated := root.Clone()
	sites := collect(mutated, func(n *Node) bool {
		switch n.Kind {
		case KindUnary:
			return len(alternatives(UnaryOps, n.Op)) > 0
		case KindBinary:
			return len(alternatives(BinaryOps, n.Op)) > 0
		case KindCompare:
			return len(alternatives(CompareOps, n.Op)) > 0
		}
		return false
	})
	if len(sites) == 0 {
		return nil, ErrNoMutationSite
	}
	target := sites[rng.Intn(len(sites))]
	var choices []string
	switch target.Kind {
	case KindUnary:
		choices = alternatives(UnaryOps, target.Op)
	case KindBinary:
		choices = alternatives(BinaryOps, target.Op)
	case KindCompare:
		choices = alternatives(CompareOps, target.Op)
	}
	target.Op = choices[rng.Intn(len(choices))]
	return mutated, nil
}

// InvertComparison flips one randomly chosen comparison to its negation
// (gt <-> le, lt <-> ge).
func InvertComparison(root *Node, rng *rand.Rand) (*Node, error) {
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	mutated := root.Clone()
	sites := collect(mutated, func(n *Node) bool { return n.Kind == KindCompare })
	if len(sites) == 0 {
		return nil, ErrNoMutationSite
	}
	target := sites[rng.Intn(len(sites))]
	switch target.Op {
	case "gt":
		target.Op = "le"
	case "le":
		target.Op = "gt"
	case "lt":
		target.Op = "ge"
	case "ge":
		target.Op = "lt"
	default:
		return nil, fmt.Errorf("%w: compare %q", ErrUnknownOperator, target.Op)
	}
	return mutated, nil
}

// ScaleConstant multiplies one randomly chosen constant by a factor drawn
// uniformly from [1-spread, 1+spread]. Zero constants are nudged instead of
// scaled so they are not permanently stuck.
func ScaleConstant(root *Node, rng *rand.Rand, spread float64) (*Node, error) {
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	if spread <= 0 {
		return nil, errors.New("spread must be > 0")
	}
	mutated := root.Clone()
	sites := collect(mutated, func(n *Node) bool { return n.Kind == KindConst })
	if len(sites) == 0 {
		return nil, ErrNoMutationSite
	}
	target := sites[rng.Intn(len(sites))]
	scale := 1 + (rng.Float64()*2-1)*spread
	if target.Value == 0 {
		target.Value = (rng.Float64()*2 - 1) * spread
		return mutated, nil
	}
	target.Value *= scale
	return mutated, nil
}

func collect(root *Node, match func(*Node) bool) []*Node {
	var sites []*Node
	root.walk(func(n *Node) {
		if match(n) {
			sites = append(sites, n)
		}
	})
	return sites
}

func alternatives(ops []string, current string) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		if op != current {
			out = append(out, op)
		}
	}
	return out
}
