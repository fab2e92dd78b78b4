package storage

import (
	"context"
	"sync"

	"strategos/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	strategies  map[string]model.StrategyGraph
	checkpoints map[string]model.Checkpoint
	champions   map[string]model.Champion
	mutations   map[string][]model.MutationRecord
	diagnostics map[string][]model.GenerationDiagnostics
	lineage     map[string][]model.LineageRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.strategies = make(map[string]model.StrategyGraph)
	s.checkpoints = make(map[string]model.Checkpoint)
	s.champions = make(map[string]model.Champion)
	s.mutations = make(map[string][]model.MutationRecord)
	s.diagnostics = make(map[string][]model.GenerationDiagnostics)
	s.lineage = make(map[string][]model.LineageRecord)
	return nil
}

func (s *MemoryStore) SaveStrategy(_ context.Context, strategy model.StrategyGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.strategies[strategy.ID] = strategy
	return nil
}

func (s *MemoryStore) GetStrategy(_ context.Context, id string) (model.StrategyGraph, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	strategy, ok := s.strategies[id]
	return strategy, ok, nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, cp model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[cp.RunID] = cp
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, runID string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[runID]
	return cp, ok, nil
}

func (s *MemoryStore) SaveChampion(_ context.Context, runID string, champion model.Champion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.champions[runID] = champion
	return nil
}

func (s *MemoryStore) GetChampion(_ context.Context, runID string) (model.Champion, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	champion, ok := s.champions[runID]
	return champion, ok, nil
}

func (s *MemoryStore) SaveMutationLog(_ context.Context, runID string, records []model.MutationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.MutationRecord, len(records))
	copy(copied, records)
	s.mutations[runID] = copied
	return nil
}

func (s *MemoryStore) GetMutationLog(_ context.Context, runID string) ([]model.MutationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.mutations[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.MutationRecord, len(records))
	copy(copied, records)
	return copied, true, nil
}

func (s *MemoryStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	s.diagnostics[runID] = copied
	return nil
}

func (s *MemoryStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	return copied, true, nil
}

func (s *MemoryStore) SaveLineage(_ context.Context, runID string, lineage []model.LineageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.LineageRecord, len(lineage))
	copy(copied, lineage)
	s.lineage[runID] = copied
	return nil
}

func (s *MemoryStore) GetLineage(_ context.Context, runID string) ([]model.LineageRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lineage, ok := s.lineage[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.LineageRecord, len(lineage))
	copy(copied, lineage)
	return copied, true, nil
}
