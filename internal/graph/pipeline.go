package graph

import (
	"context"
	"fmt"

	"strategos/internal/dataset"
	"strategos/internal/factor"
	"strategos/internal/model"
)

// Pipeline is a compiled strategy graph: factors bound to their transforms
// in a fixed execution order.
type Pipeline struct {
	graphID string
	steps   []pipelineStep
}

type pipelineStep struct {
	factor    model.Factor
	transform factor.Transform
}

// Compile validates the graph and binds every factor to its registered
// transform. Compilation succeeds only when all five structural checks pass.
func Compile(g model.StrategyGraph) (*Pipeline, error) {
	if err := Validate(g); err != nil {
		return nil, err
	}
	order, err := TopologicalOrder(g)
	if err != nil {
		return nil, err
	}

	steps := make([]pipelineStep, 0, len(order))
	for _, id := range order {
		f := g.Factors[id]
		def, err := factor.Resolve(f.Type)
		if err != nil {
			return nil, fmt.Errorf("compile graph %s: %w", g.ID, err)
		}
		if err := def.Validate(f); err != nil {
			return nil, fmt.Errorf("compile graph %s factor %s: %w", g.ID, id, err)
		}
		steps = append(steps, pipelineStep{factor: cloneFactor(f), transform: def.Transform})
	}
	return &Pipeline{graphID: g.ID, steps: steps}, nil
}

// GraphID returns the id of the compiled strategy graph.
func (p *Pipeline) GraphID() string {
	return p.graphID
}

// Order returns the factor execution order.
func (p *Pipeline) Order() []string {
	order := make([]string, 0, len(p.steps))
	for _, step := range p.steps {
		order = append(order, step.factor.ID)
	}
	return order
}

// Run executes the pipeline over a dataset, threading the accumulating
// dataset through each transform in topological order. The input dataset is
// never modified. Execution fails fast on the first factor error.
func (p *Pipeline) Run(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	out := ds.Clone()
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := step.transform.Apply(out, step.factor); err != nil {
			return nil, fmt.Errorf("pipeline %s factor %s: %w", p.graphID, step.factor.ID, err)
		}
	}
	return out, nil
}
