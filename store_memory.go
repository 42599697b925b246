package verdict

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and short-lived tooling.
// Nothing survives process exit.
type MemoryStore struct {
	mu          sync.RWMutex
	closed      bool
	experiments map[string]Experiment
	results     map[string][]AnalysisRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: make(map[string]Experiment),
		results:     make(map[string][]AnalysisRecord),
	}
}

// SaveExperiment implements Store.
func (s *MemoryStore) SaveExperiment(ctx context.Context, exp Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newStoreError(StoreErrorTypeClosed, "save_experiment", exp.ID, nil)
	}
	s.experiments[exp.ID] = exp
	return nil
}

// LoadExperiment implements Store.
func (s *MemoryStore) LoadExperiment(ctx context.Context, id string) (Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Experiment{}, newStoreError(StoreErrorTypeClosed, "load_experiment", id, nil)
	}
	exp, ok := s.experiments[id]
	if !ok {
		return Experiment{}, newStoreError(StoreErrorTypeNotFound, "load_experiment", id, nil)
	}
	return exp, nil
}

// DeleteExperiment implements Store.
func (s *MemoryStore) DeleteExperiment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newStoreError(StoreErrorTypeClosed, "delete_experiment", id, nil)
	}
	if _, ok := s.experiments[id]; !ok {
		return newStoreError(StoreErrorTypeNotFound, "delete_experiment", id, nil)
	}
	delete(s.experiments, id)
	delete(s.results, id)
	return nil
}

// ListExperiments implements Store.
func (s *MemoryStore) ListExperiments(ctx context.Context) ([]Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, newStoreError(StoreErrorTypeClosed, "list_experiments", "", nil)
	}
	experiments := make([]Experiment, 0, len(s.experiments))
	for _, exp := range s.experiments {
		experiments = append(experiments, exp)
	}
	return experiments, nil
}

// SaveResult implements Store.
func (s *MemoryStore) SaveResult(ctx context.Context, record AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newStoreError(StoreErrorTypeClosed, "save_result", record.ExperimentID, nil)
	}
	s.results[record.ExperimentID] = append(s.results[record.ExperimentID], record)
	return nil
}

// LoadResults implements Store.
func (s *MemoryStore) LoadResults(ctx context.Context, experimentID string) ([]AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, newStoreError(StoreErrorTypeClosed, "load_results", experimentID, nil)
	}
	records := s.results[experimentID]
	out := make([]AnalysisRecord, len(records))
	copy(out, records)
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
