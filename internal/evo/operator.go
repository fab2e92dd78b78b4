package evo

import (
	"context"
	"math/rand"

	"strategos/internal/model"
)

// Operator mutates a strategy graph. Implementations never modify the input
// graph: they clone, mutate the clone, validate, and either return the valid
// clone or an error with the input left untouched. Every attempt yields an
// audit record, success or not.
type Operator interface {
	Name() string
	Tier() int
	Apply(ctx context.Context, rng *rand.Rand, g model.StrategyGraph) (model.StrategyGraph, model.MutationRecord, error)
}

// applied builds the audit record for a successful attempt.
func applied(op Operator, target string) model.MutationRecord {
	return model.MutationRecord{
		Tier:           op.Tier(),
		Operation:      op.Name(),
		TargetFactorID: target,
		Success:        true,
	}
}

// rejected builds the audit record for a failed attempt. The error text is
// captured so the audit trail explains the rejection without the caller
// re-deriving it.
func rejected(op Operator, target string, err error) model.MutationRecord {
	return model.MutationRecord{
		Tier:            op.Tier(),
		Operation:       op.Name(),
		TargetFactorID:  target,
		Success:         false,
		RejectionReason: err.Error(),
	}
}
