package memory

import (
	"context"
	"sort"
	"sync"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
)

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu   sync.RWMutex
	data map[uint32]*domain.TickCheckpoint
	last uint32
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		data: make(map[uint32]*domain.TickCheckpoint),
	}
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// Put records a fully handled tick. Returns ErrDuplicateKey if present.
func (s *CheckpointStore) Put(_ context.Context, cp *domain.TickCheckpoint) error {
	if cp == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[cp.Tick]; exists {
		return storage.ErrDuplicateKey
	}

	c := *cp
	s.data[cp.Tick] = &c
	if cp.Tick > s.last {
		s.last = cp.Tick
	}
	return nil
}

// Get retrieves the checkpoint for a tick.
func (s *CheckpointStore) Get(_ context.Context, tick uint32) (*domain.TickCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.data[tick]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *cp
	return &c, nil
}

// Last returns the highest checkpointed tick.
func (s *CheckpointStore) Last(_ context.Context) (*domain.TickCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.data[s.last]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *cp
	return &c, nil
}

// Range retrieves checkpoints within [from, to] inclusive, ascending.
func (s *CheckpointStore) Range(_ context.Context, from, to uint32) ([]*domain.TickCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TickCheckpoint
	for tick, cp := range s.data {
		if tick >= from && tick <= to {
			c := *cp
			result = append(result, &c)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Tick < result[j].Tick
	})
	return result, nil
}
