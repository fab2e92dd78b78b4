package storage

import (
	"context"

	"strategos/internal/model"
)

// Store defines persistence operations for evolutionary run state. The
// checkpoint methods make any Store usable as the population manager's
// checkpoint sink.
type Store interface {
	Init(ctx context.Context) error
	SaveStrategy(ctx context.Context, strategy model.StrategyGraph) error
	GetStrategy(ctx context.Context, id string) (model.StrategyGraph, bool, error)
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	GetCheckpoint(ctx context.Context, runID string) (model.Checkpoint, bool, error)
	SaveChampion(ctx context.Context, runID string, champion model.Champion) error
	GetChampion(ctx context.Context, runID string) (model.Champion, bool, error)
	SaveMutationLog(ctx context.Context, runID string, records []model.MutationRecord) error
	GetMutationLog(ctx context.Context, runID string) ([]model.MutationRecord, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error
	GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error)
}
