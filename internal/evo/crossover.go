package evo

import (
	"math/rand"
	"sort"

	"strategos/internal/factor"
	"strategos/internal/graph"
	"strategos/internal/model"
)

// Crossover recombines two parents. One parent contributes the structure;
// parameters of factor types the parents share are blended; when possible a
// factor unique to the donor is grafted in and wired into an existing
// consumer. The result is fully validated, and both parents are left
// untouched.
func Crossover(rng *rand.Rand, a, b model.StrategyGraph) (model.StrategyGraph, error) {
	base, donor := a, b
	if rng.Intn(2) == 1 {
		base, donor = b, a
	}

	child := graph.Clone(base)
	blendParameters(rng, child, donor)
	graftDonorFactor(rng, &child, donor)

	if err := graph.Validate(child); err != nil {
		return model.StrategyGraph{}, err
	}
	return child, nil
}

// blendParameters blends each base factor's parameters with those of a
// same-typed donor factor. The blend stays inside declared parameter ranges.
func blendParameters(rng *rand.Rand, child model.StrategyGraph, donor model.StrategyGraph) {
	donorByType := map[string]model.Factor{}
	donorIDs := make([]string, 0, len(donor.Factors))
	for id := range donor.Factors {
		donorIDs = append(donorIDs, id)
	}
	sort.Strings(donorIDs)
	for _, id := range donorIDs {
		f := donor.Factors[id]
		if _, ok := donorByType[f.Type]; !ok {
			donorByType[f.Type] = f
		}
	}

	ids := make([]string, 0, len(child.Factors))
	for id := range child.Factors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		f := child.Factors[id]
		mate, ok := donorByType[f.Type]
		if !ok || len(f.Expression) > 0 {
			continue
		}
		def, err := factor.Resolve(f.Type)
		if err != nil {
			continue
		}
		alpha := rng.Float64()
		for name, value := range f.Parameters {
			other, ok := mate.Parameters[name]
			if !ok {
				continue
			}
			blended := alpha*value + (1-alpha)*other
			if spec, ok := def.ParamSpecFor(name); ok {
				blended = spec.Clamp(blended)
			}
			f.Parameters[name] = blended
		}
		child.Factors[id] = f
	}
}

// graftDonorFactor tries to import one donor factor whose type is absent
// from the child and whose inputs the child can already satisfy, then
// rewires an existing consumer onto its output so the graft is not an
// orphan. Signal producers are skipped: the child keeps exactly its own
// signal chain. A graft that cannot be wired validly is abandoned, leaving
// the blended child as-is.
func graftDonorFactor(rng *rand.Rand, child *model.StrategyGraph, donor model.StrategyGraph) bool {
	childTypes := map[string]struct{}{}
	for _, f := range child.Factors {
		childTypes[f.Type] = struct{}{}
	}
	fields, _ := availableFields(*child)
	available := map[string]struct{}{}
	for _, field := range fields {
		available[field] = struct{}{}
	}

	donorIDs := make([]string, 0, len(donor.Factors))
	for id := range donor.Factors {
		donorIDs = append(donorIDs, id)
	}
	sort.Strings(donorIDs)

	var candidates []string
	for _, id := range donorIDs {
		f := donor.Factors[id]
		if _, dup := childTypes[f.Type]; dup {
			continue
		}
		if f.Category == model.CategorySignal || len(f.Expression) > 0 {
			continue
		}
		satisfiable := len(f.Inputs) > 0
		for _, input := range f.Inputs {
			if _, ok := available[input]; !ok {
				satisfiable = false
				break
			}
		}
		if satisfiable {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return false
	}

	chosen := donor.Factors[candidates[rng.Intn(len(candidates))]]
	def, err := factor.Resolve(chosen.Type)
	if err != nil {
		return false
	}
	id := freshFactorID(rng, *child, chosen.Type)
	grafted, err := def.New(id, chosen.Inputs, chosen.Parameters)
	if err != nil || len(grafted.Outputs) == 0 {
		return false
	}

	producers := graph.OutputProducers(*child)
	var deps []string
	seen := map[string]struct{}{}
	for _, input := range grafted.Inputs {
		if producer, ok := producers[input]; ok {
			if _, dup := seen[producer]; !dup {
				seen[producer] = struct{}{}
				deps = append(deps, producer)
			}
		}
	}
	next, err := graph.AddFactor(*child, grafted, deps)
	if err != nil {
		return false
	}

	if !rewireConsumer(rng, &next, id, grafted.Outputs[0]) {
		return false
	}
	if err := graph.Validate(next); err != nil {
		return false
	}
	*child = next
	return true
}

// rewireConsumer points one input of an existing factor at the grafted
// output and refreshes that factor's dependency edges.
func rewireConsumer(rng *rand.Rand, g *model.StrategyGraph, graftedID, graftedOutput string) bool {
	var consumers []string
	for id, f := range g.Factors {
		if id == graftedID || len(f.Expression) > 0 || len(f.Inputs) == 0 {
			continue
		}
		consumers = append(consumers, id)
	}
	sort.Strings(consumers)
	if len(consumers) == 0 {
		return false
	}

	consumerID := consumers[rng.Intn(len(consumers))]
	consumer := g.Factors[consumerID]
	consumer.Inputs[rng.Intn(len(consumer.Inputs))] = graftedOutput
	g.Factors[consumerID] = consumer

	producers := graph.OutputProducers(*g)
	var deps []string
	seen := map[string]struct{}{}
	for _, input := range consumer.Inputs {
		producer, ok := producers[input]
		if !ok || producer == consumerID {
			continue
		}
		if _, dup := seen[producer]; !dup {
			seen[producer] = struct{}{}
			deps = append(deps, producer)
		}
	}
	sort.Strings(deps)
	g.Edges[consumerID] = deps
	return true
}
