// Package graph implements the strategy factor-graph: a DAG of factor
// instances whose edges record which factors feed which. All operations are
// copy-on-write; a graph handed to a caller is never mutated afterwards.
package graph

import (
	"sort"

	"strategos/internal/model"
)

// New returns an empty strategy graph.
func New(id string, generation int, parentIDs []string) model.StrategyGraph {
	return model.StrategyGraph{
		ID:         id,
		Generation: generation,
		ParentIDs:  append([]string(nil), parentIDs...),
		Factors:    map[string]model.Factor{},
		Edges:      map[string][]string{},
	}
}

// Clone deep-copies a graph, including factor ownership, so descendant
// lineages stay independently mutable.
func Clone(g model.StrategyGraph) model.StrategyGraph {
	out := model.StrategyGraph{
		VersionedRecord: g.VersionedRecord,
		ID:              g.ID,
		Generation:      g.Generation,
		ParentIDs:       append([]string(nil), g.ParentIDs...),
		Factors:         make(map[string]model.Factor, len(g.Factors)),
		Edges:           make(map[string][]string, len(g.Edges)),
	}
	for id, f := range g.Factors {
		out.Factors[id] = cloneFactor(f)
	}
	for id, deps := range g.Edges {
		out.Edges[id] = append([]string(nil), deps...)
	}
	return out
}

func cloneFactor(f model.Factor) model.Factor {
	out := f
	out.Inputs = append([]string(nil), f.Inputs...)
	out.Outputs = append([]string(nil), f.Outputs...)
	out.Parameters = make(map[string]float64, len(f.Parameters))
	for name, value := range f.Parameters {
		out.Parameters[name] = value
	}
	out.Expression = append([]byte(nil), f.Expression...)
	return out
}

// AddFactor returns a new graph with the factor inserted, depending on the
// given existing factors. The original graph is unchanged on error.
func AddFactor(g model.StrategyGraph, f model.Factor, dependsOn []string) (model.StrategyGraph, error) {
	if f.ID == "" {
		return model.StrategyGraph{}, &StructuralError{Kind: KindUnknownDependency, Detail: "factor id is required"}
	}
	if _, exists := g.Factors[f.ID]; exists {
		return model.StrategyGraph{}, &StructuralError{
			Kind:      KindDuplicateFactor,
			FactorIDs: []string{f.ID},
		}
	}
	for _, dep := range dependsOn {
		if _, ok := g.Factors[dep]; !ok {
			return model.StrategyGraph{}, &StructuralError{
				Kind:      KindUnknownDependency,
				FactorIDs: []string{f.ID, dep},
			}
		}
	}

	next := Clone(g)
	next.Factors[f.ID] = cloneFactor(f)
	deps := append([]string(nil), dependsOn...)
	sort.Strings(deps)
	next.Edges[f.ID] = deps

	// A fresh node only gains incoming dependencies, but the sort guards
	// against callers that assembled edges by hand.
	if _, err := TopologicalOrder(next); err != nil {
		return model.StrategyGraph{}, err
	}
	return next, nil
}

// RemoveFactor returns a new graph without the factor. Removal is rejected
// while any other factor depends on it: orphan creation is prevented at
// remove time, not patched afterwards.
func RemoveFactor(g model.StrategyGraph, id string) (model.StrategyGraph, error) {
	if _, ok := g.Factors[id]; !ok {
		return model.StrategyGraph{}, &StructuralError{Kind: KindUnknownDependency, FactorIDs: []string{id}}
	}
	if dependents := Dependents(g, id); len(dependents) > 0 {
		return model.StrategyGraph{}, &StructuralError{
			Kind:      KindHasDependents,
			FactorIDs: append([]string{id}, dependents...),
		}
	}

	next := Clone(g)
	delete(next.Factors, id)
	delete(next.Edges, id)
	return next, nil
}

// Dependents returns the sorted ids of factors that depend on the given one.
func Dependents(g model.StrategyGraph, id string) []string {
	var out []string
	for factorID, deps := range g.Edges {
		for _, dep := range deps {
			if dep == id {
				out = append(out, factorID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// TopologicalOrder returns factor ids in dependency order. Ties between
// simultaneously-ready factors break by id, so the order is deterministic
// for any equivalent graph regardless of map iteration.
func TopologicalOrder(g model.StrategyGraph) ([]string, error) {
	indegree := make(map[string]int, len(g.Factors))
	dependents := make(map[string][]string, len(g.Factors))
	for id := range g.Factors {
		indegree[id] = 0
	}
	for id, deps := range g.Edges {
		if _, ok := g.Factors[id]; !ok {
			return nil, &StructuralError{Kind: KindUnknownDependency, FactorIDs: []string{id}}
		}
		for _, dep := range deps {
			if _, ok := g.Factors[dep]; !ok {
				return nil, &StructuralError{Kind: KindUnknownDependency, FactorIDs: []string{id, dep}}
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	ready := make([]string, 0, len(g.Factors))
	for id, degree := range indegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.Factors))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		released := make([]string, 0, len(dependents[id]))
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		if len(released) > 0 {
			ready = append(ready, released...)
			sort.Strings(ready)
		}
	}

	if len(order) != len(g.Factors) {
		cycle := make([]string, 0, len(g.Factors)-len(order))
		for id, degree := range indegree {
			if degree > 0 {
				cycle = append(cycle, id)
			}
		}
		sort.Strings(cycle)
		return nil, &StructuralError{Kind: KindCycle, FactorIDs: cycle}
	}
	return order, nil
}

// Ancestors returns the transitive dependency closure of a factor, excluding
// the factor itself.
func Ancestors(g model.StrategyGraph, id string) map[string]struct{} {
	closure := map[string]struct{}{}
	var visit func(string)
	visit = func(current string) {
		for _, dep := range g.Edges[current] {
			if _, seen := closure[dep]; seen {
				continue
			}
			closure[dep] = struct{}{}
			visit(dep)
		}
	}
	visit(id)
	return closure
}

// OutputProducers maps every produced output field to the factor producing
// it. Duplicate producers surface during validation, not here; the last
// sorted factor id wins for lookup purposes.
func OutputProducers(g model.StrategyGraph) map[string]string {
	ids := make([]string, 0, len(g.Factors))
	for id := range g.Factors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	producers := map[string]string{}
	for _, id := range ids {
		for _, output := range g.Factors[id].Outputs {
			producers[output] = id
		}
	}
	return producers
}

// SignalProducers returns the sorted ids of factors that produce the
// designated position-signal field.
func SignalProducers(g model.StrategyGraph, signalField string) []string {
	var out []string
	for id, f := range g.Factors {
		for _, output := range f.Outputs {
			if output == signalField {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
