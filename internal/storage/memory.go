package storage

import (
	"context"
	"errors"
	"sync"

	"rsgnet/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	snapshots   map[string]model.Snapshot
	history     map[string][]model.LossRecord
	runs        map[string]model.RunSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.snapshots = make(map[string]model.Snapshot)
	s.history = make(map[string][]model.LossRecord)
	s.runs = make(map[string]model.RunSummary)
	return nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snapshot model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.snapshots[snapshot.ID] = cloneSnapshot(snapshot)
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, id string) (model.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[id]
	if !ok {
		return model.Snapshot{}, false, nil
	}
	return cloneSnapshot(snapshot), true, nil
}

// ListSnapshots returns every snapshot of runID, or all snapshots when runID
// is empty, oldest first.
func (s *MemoryStore) ListSnapshots(_ context.Context, runID string) ([]model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Snapshot, 0, len(s.snapshots))
	for _, snapshot := range s.snapshots {
		if runID != "" && snapshot.RunID != runID {
			continue
		}
		out = append(out, cloneSnapshot(snapshot))
	}
	sortSnapshots(out)
	return out, nil
}

func (s *MemoryStore) SaveLossHistory(_ context.Context, runID string, history []model.LossRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.history[runID] = append([]model.LossRecord(nil), history...)
	return nil
}

func (s *MemoryStore) GetLossHistory(_ context.Context, runID string) ([]model.LossRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.LossRecord(nil), history...), true, nil
}

func (s *MemoryStore) SaveRunSummary(_ context.Context, summary model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	summary.Losses = append([]string(nil), summary.Losses...)
	s.runs[summary.RunID] = summary
	return nil
}

func (s *MemoryStore) GetRunSummary(_ context.Context, runID string) (model.RunSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.runs[runID]
	return summary, ok, nil
}

func (s *MemoryStore) ListRunSummaries(_ context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunSummary, 0, len(s.runs))
	for _, summary := range s.runs {
		out = append(out, summary)
	}
	sortRuns(out)
	return out, nil
}

func cloneSnapshot(s model.Snapshot) model.Snapshot {
	out := s
	out.Tensors = make([]model.WeightTensor, len(s.Tensors))
	for i, tensor := range s.Tensors {
		out.Tensors[i] = model.WeightTensor{
			Name:  tensor.Name,
			Shape: append([]int(nil), tensor.Shape...),
			Data:  append([]float64(nil), tensor.Data...),
		}
	}
	return out
}
