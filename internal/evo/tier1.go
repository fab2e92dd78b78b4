package evo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"

	"strategos/internal/factor"
	"strategos/internal/graph"
	"strategos/internal/model"
)

// ConfigPayload is the declarative Tier-1 mutation form: a factor id plus the
// parameter fields to override. It carries no code and no structure; anything
// beyond parameter values is a schema violation.
type ConfigPayload struct {
	FactorID   string             `json:"factor_id"`
	Parameters map[string]float64 `json:"parameters"`
}

// ParseConfigPayload decodes an untrusted raw payload. Unknown fields,
// malformed JSON, and empty payloads are schema errors, never panics.
func ParseConfigPayload(raw []byte) (ConfigPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var p ConfigPayload
	if err := dec.Decode(&p); err != nil {
		return ConfigPayload{}, &SchemaError{Detail: err.Error()}
	}
	if p.FactorID == "" {
		return ConfigPayload{}, &SchemaError{Field: "factor_id", Detail: "required"}
	}
	if len(p.Parameters) == 0 {
		return ConfigPayload{}, &SchemaError{Field: "parameters", Detail: "at least one override required"}
	}
	return p, nil
}

// ApplyConfigPayload validates the payload against the registered definition
// of the target factor and returns a new graph with the overridden
// parameters. The input graph is unchanged on any error.
func ApplyConfigPayload(g model.StrategyGraph, p ConfigPayload) (model.StrategyGraph, error) {
	target, ok := g.Factors[p.FactorID]
	if !ok {
		return model.StrategyGraph{}, &SchemaError{Field: "factor_id", Detail: fmt.Sprintf("no factor %s in graph", p.FactorID)}
	}
	def, err := factor.Resolve(target.Type)
	if err != nil {
		return model.StrategyGraph{}, &SchemaError{Field: "factor_id", Detail: err.Error()}
	}
	for name, value := range p.Parameters {
		spec, ok := def.ParamSpecFor(name)
		if !ok {
			return model.StrategyGraph{}, &SchemaError{
				Field:  name,
				Detail: fmt.Sprintf("not a parameter of %s", target.Type),
			}
		}
		if value < spec.Min || value > spec.Max {
			return model.StrategyGraph{}, &SchemaError{
				Field:  name,
				Detail: fmt.Sprintf("%v outside [%v, %v]", value, spec.Min, spec.Max),
			}
		}
	}

	next := graph.Clone(g)
	mutated := next.Factors[p.FactorID]
	for name, value := range p.Parameters {
		mutated.Parameters[name] = value
	}
	next.Factors[p.FactorID] = mutated
	if err := def.Validate(mutated); err != nil {
		return model.StrategyGraph{}, &SchemaError{Detail: err.Error()}
	}
	if err := graph.Validate(next); err != nil {
		return model.StrategyGraph{}, err
	}
	return next, nil
}

// ConfigMutation is the Tier-1 operator: it drafts a declarative payload for
// a randomly chosen tunable factor and applies it through the same schema
// validation path that external payloads use.
type ConfigMutation struct{}

func (ConfigMutation) Name() string { return "tier1_config" }
func (ConfigMutation) Tier() int    { return 1 }

func (op ConfigMutation) Apply(ctx context.Context, rng *rand.Rand, g model.StrategyGraph) (model.StrategyGraph, model.MutationRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.StrategyGraph{}, rejected(op, "", err), err
	}
	payload, err := draftConfigPayload(rng, g)
	if err != nil {
		return model.StrategyGraph{}, rejected(op, "", err), err
	}
	next, err := ApplyConfigPayload(g, payload)
	if err != nil {
		return model.StrategyGraph{}, rejected(op, payload.FactorID, err), err
	}
	return next, applied(op, payload.FactorID), nil
}

// MutationContext is everything an external proposer sees: the strategy to
// tune plus the recent history that should steer the next proposal.
type MutationContext struct {
	Graph           model.StrategyGraph
	PriorMetrics    model.Metrics
	PriorRejections []string
}

// PayloadProposer drafts raw Tier-1 payloads from outside the process,
// typically a language model. Proposals are untrusted bytes.
type PayloadProposer interface {
	ProposeConfig(ctx context.Context, mc MutationContext) ([]byte, error)
}

// maxPriorRejections caps how much rejection history a proposer sees.
const maxPriorRejections = 8

// ProposerHistory accumulates what the run has learned between proposals:
// the current parent's metrics and the reasons recent attempts were
// rejected. The manager owns one instance and feeds it from the breeding
// loop, which runs single-threaded.
type ProposerHistory struct {
	metrics    model.Metrics
	rejections []string
}

func (h *ProposerHistory) observe(m model.Metrics) { h.metrics = m }

func (h *ProposerHistory) reject(reason string) {
	if reason == "" {
		return
	}
	h.rejections = append(h.rejections, reason)
	if len(h.rejections) > maxPriorRejections {
		h.rejections = h.rejections[len(h.rejections)-maxPriorRejections:]
	}
}

// contextFor snapshots the history into a MutationContext for one proposal.
// A nil history yields a bare context.
func (h *ProposerHistory) contextFor(g model.StrategyGraph) MutationContext {
	if h == nil {
		return MutationContext{Graph: g}
	}
	return MutationContext{
		Graph:           g,
		PriorMetrics:    h.metrics,
		PriorRejections: append([]string(nil), h.rejections...),
	}
}

// GuidedConfigMutation is Tier-1 with an external proposer. Proposer
// failures are generation errors: the attempt is rejected and the retry
// budget falls back to other operators.
type GuidedConfigMutation struct {
	Proposer PayloadProposer
	History  *ProposerHistory
}

func (GuidedConfigMutation) Name() string { return "tier1_config_guided" }
func (GuidedConfigMutation) Tier() int    { return 1 }

func (op GuidedConfigMutation) Apply(ctx context.Context, rng *rand.Rand, g model.StrategyGraph) (model.StrategyGraph, model.MutationRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.StrategyGraph{}, rejected(op, "", err), err
	}
	raw, err := op.Proposer.ProposeConfig(ctx, op.History.contextFor(g))
	if err != nil {
		genErr := &GenerationError{Err: err}
		return model.StrategyGraph{}, rejected(op, "", genErr), genErr
	}
	payload, err := ParseConfigPayload(raw)
	if err != nil {
		return model.StrategyGraph{}, rejected(op, "", err), err
	}
	next, err := ApplyConfigPayload(g, payload)
	if err != nil {
		return model.StrategyGraph{}, rejected(op, payload.FactorID, err), err
	}
	return next, applied(op, payload.FactorID), nil
}

// draftConfigPayload picks a tunable factor and draws one fresh in-range
// value for one of its parameters. Graphs with no tunable parameters cannot
// take a Tier-1 mutation.
func draftConfigPayload(rng *rand.Rand, g model.StrategyGraph) (ConfigPayload, error) {
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
		return ConfigPayload{}, ErrNoMutationChoice
	}

	chosen := sites[rng.Intn(len(sites))]
	value := chosen.spec.Min + rng.Float64()*(chosen.spec.Max-chosen.spec.Min)
	return ConfigPayload{
		FactorID:   chosen.factorID,
		Parameters: map[string]float64{chosen.spec.Name: value},
	}, nil
}
