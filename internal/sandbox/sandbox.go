// Package sandbox runs untrusted expression payloads under hard resource
// limits. Proposed logic never touches a live strategy graph until it has
// decoded, validated, and executed cleanly in here.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"strategos/internal/dataset"
	"strategos/internal/expr"
)

// Limits bound a single execution. Zero values fall back to defaults.
type Limits struct {
	MaxNodes int           `yaml:"max_nodes"`
	MaxDepth int           `yaml:"max_depth"`
	Timeout  time.Duration `yaml:"timeout"`
}

func DefaultLimits() Limits {
	tree := expr.DefaultLimits()
	return Limits{MaxNodes: tree.MaxNodes, MaxDepth: tree.MaxDepth, Timeout: 2 * time.Second}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxNodes <= 0 {
		l.MaxNodes = def.MaxNodes
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = def.MaxDepth
	}
	if l.Timeout <= 0 {
		l.Timeout = def.Timeout
	}
	return l
}

// Executor evaluates a serialized expression over a dataset and returns the
// per-row results.
type Executor interface {
	Execute(ctx context.Context, raw []byte, ds *dataset.Dataset) ([]float64, error)
}

// LocalExecutor interprets expressions in-process. The closed operator set
// makes interpretation safe; the limits make it bounded.
type LocalExecutor struct {
	limits Limits
}

func NewLocalExecutor(limits Limits) *LocalExecutor {
	return &LocalExecutor{limits: limits.withDefaults()}
}

// Execute decodes the payload against the dataset's columns and evaluates it
// row by row under the configured timeout. Any decode failure, disallowed
// operator, oversize tree, or runtime error aborts the whole execution.
func (e *LocalExecutor) Execute(ctx context.Context, raw []byte, ds *dataset.Dataset) ([]float64, error) {
	allowed := map[string]struct{}{}
	for _, field := range ds.Fields() {
		allowed[field] = struct{}{}
	}
	tree, err := expr.Decode(raw, allowed, expr.Limits{MaxNodes: e.limits.MaxNodes, MaxDepth: e.limits.MaxDepth})
	if err != nil {
		return nil, fmt.Errorf("sandbox decode: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.limits.Timeout)
	defer cancel()

	out := make([]float64, ds.Rows())
	for row := range out {
		if row%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("sandbox execution: %w", err)
			}
		}
		value, err := expr.Eval(tree, ds, row)
		if err != nil {
			return nil, fmt.Errorf("sandbox row %d: %w", row, err)
		}
		out[row] = value
	}
	return out, nil
}
