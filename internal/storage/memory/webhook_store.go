package memory

import (
	"context"
	"sort"
	"sync"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
)

// WebhookStore is an in-memory implementation of storage.WebhookStore.
type WebhookStore struct {
	mu   sync.RWMutex
	data map[string]*domain.WebhookSubscription
}

// NewWebhookStore creates a new in-memory webhook store.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		data: make(map[string]*domain.WebhookSubscription),
	}
}

var _ storage.WebhookStore = (*WebhookStore)(nil)

// Create adds a subscription. Returns ErrDuplicateKey if the id exists.
func (s *WebhookStore) Create(_ context.Context, w *domain.WebhookSubscription) error {
	if w == nil || w.ID == "" || w.URL == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[w.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[w.ID] = w.Clone()
	return nil
}

// Get retrieves a subscription by id.
func (s *WebhookStore) Get(_ context.Context, id string) (*domain.WebhookSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return w.Clone(), nil
}

// Update replaces a subscription.
func (s *WebhookStore) Update(_ context.Context, w *domain.WebhookSubscription) error {
	if w == nil || w.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[w.ID]; !exists {
		return storage.ErrNotFound
	}
	s.data[w.ID] = w.Clone()
	return nil
}

// Delete removes a subscription.
func (s *WebhookStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[id]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, id)
	return nil
}

// List retrieves all subscriptions ordered by creation time.
func (s *WebhookStore) List(_ context.Context) ([]*domain.WebhookSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.WebhookSubscription
	for _, w := range s.data {
		result = append(result, w.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ActiveForEvent lists active subscriptions covering an event name.
func (s *WebhookStore) ActiveForEvent(ctx context.Context, event string) ([]*domain.WebhookSubscription, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var result []*domain.WebhookSubscription
	for _, w := range all {
		if w.Active && w.WantsEvent(event) {
			result = append(result, w)
		}
	}
	return result, nil
}
