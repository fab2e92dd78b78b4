package factor

import (
	"fmt"
	"math"

	"strategos/internal/dataset"
	"strategos/internal/expr"
	"strategos/internal/model"
)

// exprSignalDefinition hosts logic-level mutation: the factor's behavior
// lives in its serialized expression tree rather than in a fixed transform.
func exprSignalDefinition() Definition {
	return Definition{
		Type:           "expr_signal",
		Category:       model.CategorySignal,
		VariadicInputs: true,
		EmitsPosition:  true,
		Transform:      TransformFunc(applyExprSignal),
	}
}

// NewExpressionFactor builds an expression-backed signal factor. The tree is
// validated against the allow-list and its field references become the
// factor's declared inputs, so graph validation can check satisfiability.
func NewExpressionFactor(id string, tree *expr.Node, limits expr.Limits) (model.Factor, error) {
	if err := expr.Validate(tree, nil, limits); err != nil {
		return model.Factor{}, err
	}
	encoded, err := expr.Encode(tree)
	if err != nil {
		return model.Factor{}, err
	}
	return model.Factor{
		ID:         id,
		Type:       "expr_signal",
		Category:   model.CategorySignal,
		Inputs:     tree.Fields(),
		Outputs:    []string{dataset.FieldPosition},
		Parameters: map[string]float64{},
		Expression: encoded,
	}, nil
}

func applyExprSignal(ds *dataset.Dataset, f model.Factor) error {
	if len(f.Expression) == 0 {
		return fmt.Errorf("factor %s has no expression", f.ID)
	}
	allowed := make(map[string]struct{}, len(f.Inputs))
	for _, input := range f.Inputs {
		allowed[input] = struct{}{}
	}
	tree, err := expr.Decode(f.Expression, allowed, expr.DefaultLimits())
	if err != nil {
		return fmt.Errorf("factor %s: %w", f.ID, err)
	}

	out := make([]float64, ds.Rows())
	for row := range out {
		value, err := expr.Eval(tree, ds, row)
		if err != nil {
			return fmt.Errorf("factor %s row %d: %w", f.ID, row, err)
		}
		// Positions are clamped to [-1, 1].
		out[row] = math.Max(-1, math.Min(1, value))
	}
	return ds.SetColumn(f.Outputs[0], out)
}
