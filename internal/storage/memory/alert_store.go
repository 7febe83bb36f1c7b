package memory

import (
	"context"
	"sort"
	"sync"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
)

// AlertStore is an in-memory implementation of storage.AlertStore.
type AlertStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Alert
}

// NewAlertStore creates a new in-memory alert store.
func NewAlertStore() *AlertStore {
	return &AlertStore{
		data: make(map[string]*domain.Alert),
	}
}

var _ storage.AlertStore = (*AlertStore)(nil)

// Create adds an alert definition. Returns ErrDuplicateKey if the id exists.
func (s *AlertStore) Create(_ context.Context, a *domain.Alert) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[a.ID] = a.Clone()
	return nil
}

// Get retrieves an alert by id.
func (s *AlertStore) Get(_ context.Context, id string) (*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return a.Clone(), nil
}

// Update replaces an alert definition.
func (s *AlertStore) Update(_ context.Context, a *domain.Alert) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.ID]; !exists {
		return storage.ErrNotFound
	}
	s.data[a.ID] = a.Clone()
	return nil
}

// Delete removes an alert.
func (s *AlertStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[id]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, id)
	return nil
}

// List retrieves all alerts ordered by creation time.
func (s *AlertStore) List(_ context.Context) ([]*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Alert
	for _, a := range s.data {
		result = append(result, a.Clone())
	}
	sortAlerts(result)
	return result, nil
}

// ListActive retrieves active alerts ordered by creation time.
func (s *AlertStore) ListActive(_ context.Context) ([]*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Alert
	for _, a := range s.data {
		if a.Active {
			result = append(result, a.Clone())
		}
	}
	sortAlerts(result)
	return result, nil
}

// MarkTriggered sets last_triggered and increments trigger_count.
func (s *AlertStore) MarkTriggered(_ context.Context, id string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	a.LastTriggered = at
	a.TriggerCount++
	return nil
}

func sortAlerts(alerts []*domain.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt != alerts[j].CreatedAt {
			return alerts[i].CreatedAt < alerts[j].CreatedAt
		}
		return alerts[i].ID < alerts[j].ID
	})
}
