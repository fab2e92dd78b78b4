package evo

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"strategos/internal/dataset"
	"strategos/internal/factor"
	"strategos/internal/graph"
	"strategos/internal/model"
)

// Tier-2 operators change graph structure. Every operator works on a clone
// and runs full structural validation before returning, so a failed attempt
// leaves the parent graph exactly as it was.

// AddFactor inserts a randomly instantiated non-signal factor wired to
// available fields, then rewires one existing consumer onto its output so the
// insertion feeds the signal chain instead of dangling.
type AddFactor struct{}

func (AddFactor) Name() string { return "tier2_add_factor" }
func (AddFactor) Tier() int    { return 2 }

func (op AddFactor) Apply(ctx context.Context, rng *rand.Rand, g model.StrategyGraph) (model.StrategyGraph, model.MutationRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.StrategyGraph{}, rejected(op, "", err), err
	}

	var types []string
	for _, t := range factor.List() {
		def, err := factor.Resolve(t)
		if err != nil || def.EmitsPosition || def.VariadicInputs || len(def.InputSlots) == 0 {
			continue
		}
		types = append(types, t)
	}
	if len(types) == 0 {
		return model.StrategyGraph{}, rejected(op, "", ErrNoMutationChoice), ErrNoMutationChoice
	}
	def, err := factor.Resolve(types[rng.Intn(len(types))])
	if err != nil {
		return model.StrategyGraph{}, rejected(op, "", err), err
	}

	fields, producers := availableFields(g)
	if len(fields) < len(def.InputSlots) {
		err := fmt.Errorf("%w: %s wants %d inputs, %d fields available", ErrNoMutationChoice, def.Type, len(def.InputSlots), len(fields))
		return model.StrategyGraph{}, rejected(op, "", err), err
	}

	inputs := pickDistinct(rng, fields, len(def.InputSlots))
	id := freshFactorID(rng, g, def.Type)
	f, err := def.New(id, inputs, nil)
	if err != nil {
		return model.StrategyGraph{}, rejected(op, id, err), err
	}
	if len(f.Outputs) == 0 {
		return model.StrategyGraph{}, rejected(op, id, ErrNoMutationChoice), ErrNoMutationChoice
	}

	var deps []string
	seen := map[string]struct{}{}
	for _, input := range inputs {
		if producer, ok := producers[input]; ok {
			if _, dup := seen[producer]; !dup {
				seen[producer] = struct{}{}
				deps = append(deps, producer)
			}
		}
	}

	next, err := graph.AddFactor(g, f, deps)
	if err != nil {
		return model.StrategyGraph{}, rejected(op, id, err), err
	}
	if !rewireConsumer(rng, &next, id, f.Outputs[0]) {
		return model.StrategyGraph{}, rejected(op, id, ErrNoMutationChoice), ErrNoMutationChoice
	}
	if err := graph.Validate(next); err != nil {
		return model.StrategyGraph{}, rejected(op, id, err), err
	}
	return next, applied(op, id), nil
}

// RemoveFactor splices out a single-input, single-output factor: its
// dependents are rewired to read the field it was reading, then the factor
// is deleted. In a valid graph every factor feeds the signal chain, so plain
// leaf deletion would always break it; splicing keeps the chain intact.
type RemoveFactor struct{}

func (RemoveFactor) Name() string { return "tier2_remove_factor" }
func (RemoveFactor) Tier() int    { return 2 }

func (op RemoveFactor) Apply(ctx context.Context, rng *rand.Rand, g model.StrategyGraph) (model.StrategyGraph, model.MutationRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.StrategyGraph{}, rejected(op, "", err), err
	}

	var removable []string
	for id, f := range g.Factors {
		if len(f.Inputs) == 1 && len(f.Outputs) == 1 && !emitsPosition(f) {
			removable = append(removable, id)
		}
	}
	sort.Strings(removable)
	if len(removable) == 0 {
		return model.StrategyGraph{}, rejected(op, "", ErrNoMutationChoice), ErrNoMutationChoice
	}

	id := removable[rng.Intn(len(removable))]
	next, err := spliceOut(g, id)
	if err != nil {
		return model.StrategyGraph{}, rejected(op, id, err), err
	}
	if err := graph.Validate(next); err != nil {
		return model.StrategyGraph{}, rejected(op, id, err), err
	}
	return next, applied(op, id), nil
}

func emitsPosition(f model.Factor) bool {
	for _, output := range f.Outputs {
		if output == dataset.FieldPosition {
			return true
		}
	}
	return false
}

// spliceOut rewires every dependent of the factor onto the field the factor
// was consuming, then removes it.
func spliceOut(g model.StrategyGraph, id string) (model.StrategyGraph, error) {
	removed := g.Factors[id]
	next := graph.Clone(g)

	for _, dependent := range graph.Dependents(next, id) {
		consumer := next.Factors[dependent]
		for i, input := range consumer.Inputs {
			if input == removed.Outputs[0] {
				consumer.Inputs[i] = removed.Inputs[0]
			}
		}
		next.Factors[dependent] = consumer
	}
	delete(next.Factors, id)
	delete(next.Edges, id)

	producers := graph.OutputProducers(next)
	for _, dependent := range graph.Dependents(g, id) {
		consumer := next.Factors[dependent]
		var deps []string
		seen := map[string]struct{}{}
		for _, input := range consumer.Inputs {
			producer, ok := producers[input]
			if !ok || producer == dependent {
				continue
			}
			if _, dup := seen[producer]; !dup {
				seen[producer] = struct{}{}
				deps = append(deps, producer)
			}
		}
		sort.Strings(deps)
		next.Edges[dependent] = deps
	}
	return next, nil
}

// ReplaceFactor swaps a factor for a different registered type with the same
// category, input arity, and output shape. The factor id survives, so output
// field names and downstream wiring are preserved.
type ReplaceFactor struct{}

func (ReplaceFactor) Name() string { return "tier2_replace_factor" }
func (ReplaceFactor) Tier() int    { return 2 }

func (op ReplaceFactor) Apply(ctx context.Context, rng *rand.Rand, g model.StrategyGraph) (model.StrategyGraph, model.MutationRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.StrategyGraph{}, rejected(op, "", err), err
	}

	type swap struct {
		factorID string
		def      factor.Definition
	}
	var swaps []swap

	ids := make([]string, 0, len(g.Factors))
	for id := range g.Factors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		current := g.Factors[id]
		currentDef, err := factor.Resolve(current.Type)
		if err != nil {
			continue
		}
		for _, candidate := range factor.ListByCategory(current.Category) {
			if candidate == current.Type {
				continue
			}
			def, err := factor.Resolve(candidate)
			if err != nil || def.VariadicInputs {
				continue
			}
			if !sameShape(currentDef, def) {
				continue
			}
			swaps = append(swaps, swap{factorID: id, def: def})
		}
	}
	if len(swaps) == 0 {
		return model.StrategyGraph{}, rejected(op, "", ErrNoMutationChoice), ErrNoMutationChoice
	}

	chosen := swaps[rng.Intn(len(swaps))]
	replacement, err := chosen.def.New(chosen.factorID, g.Factors[chosen.factorID].Inputs, nil)
	if err != nil {
		return model.StrategyGraph{}, rejected(op, chosen.factorID, err), err
	}

	next := graph.Clone(g)
	next.Factors[chosen.factorID] = replacement
	if err := graph.Validate(next); err != nil {
		return model.StrategyGraph{}, rejected(op, chosen.factorID, err), err
	}
	return next, applied(op, chosen.factorID), nil
}

// Reparameterize nudges one parameter multiplicatively and clamps it into
// range. Unlike Tier-1 it explores near the current value instead of
// redrawing across the whole range.
type Reparameterize struct {
	// Sigma scales the gaussian nudge; zero falls back to 0.15.
	Sigma float64
}

func (Reparameterize) Name() string { return "tier2_reparameterize" }
func (Reparameterize) Tier() int    { return 2 }

func (op Reparameterize) Apply(ctx context.Context, rng *rand.Rand, g model.StrategyGraph) (model.StrategyGraph, model.MutationRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.StrategyGraph{}, rejected(op, "", err), err
	}
	sigma := op.Sigma
	if sigma <= 0 {
		sigma = 0.15
	}

	type site struct {
		factorID string
		spec     factor.ParamSpec
	}
	var sites []site

	ids := make([]string, 0, len(g.Factors))
	for id := range g.Factors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		def, err := factor.Resolve(g.Factors[id].Type)
		if err != nil {
			continue
		}
		for _, spec := range def.Params {
			if spec.Max > spec.Min {
				sites = append(sites, site{factorID: id, spec: spec})
			}
		}
	}
	if len(sites) == 0 {
		return model.StrategyGraph{}, rejected(op, "", ErrNoMutationChoice), ErrNoMutationChoice
	}

	chosen := sites[rng.Intn(len(sites))]
	next := graph.Clone(g)
	mutated := next.Factors[chosen.factorID]
	current := mutated.Parameters[chosen.spec.Name]
	mutated.Parameters[chosen.spec.Name] = chosen.spec.Clamp(current * (1 + sigma*rng.NormFloat64()))
	next.Factors[chosen.factorID] = mutated

	if err := graph.Validate(next); err != nil {
		return model.StrategyGraph{}, rejected(op, chosen.factorID, err), err
	}
	return next, applied(op, chosen.factorID), nil
}

// availableFields lists the dataset fields a new factor may consume: base
// fields plus every existing output except the position signal. The second
// return maps producible fields to their producing factor ids.
func availableFields(g model.StrategyGraph) ([]string, map[string]string) {
	producers := graph.OutputProducers(g)
	fields := append([]string(nil), dataset.BaseFields()...)
	for field := range producers {
		if field == dataset.FieldPosition {
			continue
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields, producers
}

func pickDistinct(rng *rand.Rand, fields []string, n int) []string {
	perm := rng.Perm(len(fields))
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = fields[perm[i]]
	}
	return out
}

func freshFactorID(rng *rand.Rand, g model.StrategyGraph, factorType string) string {
	for {
		id := fmt.Sprintf("%s_%04x", factorType, rng.Intn(1<<16))
		if _, exists := g.Factors[id]; !exists {
			return id
		}
	}
}

func sameShape(a, b factor.Definition) bool {
	if len(a.InputSlots) != len(b.InputSlots) {
		return false
	}
	if a.EmitsPosition != b.EmitsPosition {
		return false
	}
	if len(a.OutputSuffixes) != len(b.OutputSuffixes) {
		return false
	}
	for i := range a.OutputSuffixes {
		if a.OutputSuffixes[i] != b.OutputSuffixes[i] {
			return false
		}
	}
	return true
}
