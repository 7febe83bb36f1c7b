package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
)

// HolderStore is an in-memory implementation of storage.HolderStore.
type HolderStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Holder
}

// NewHolderStore creates a new in-memory holder store.
func NewHolderStore() *HolderStore {
	return &HolderStore{
		data: make(map[string]*domain.Holder),
	}
}

var _ storage.HolderStore = (*HolderStore)(nil)

func holderKey(address, issuer, name string) string {
	return fmt.Sprintf("%s|%s|%s", address, issuer, name)
}

// ApplyDelta applies one trade's additive contribution atomically.
func (s *HolderStore) ApplyDelta(_ context.Context, d *domain.HolderDelta) error {
	if d == nil || d.Address == "" || d.Balance == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := holderKey(d.Address, d.AssetIssuer, d.AssetName)
	h, ok := s.data[key]
	if !ok {
		h = &domain.Holder{
			Address:       d.Address,
			AssetIssuer:   d.AssetIssuer,
			AssetName:     d.AssetName,
			Balance:       new(big.Int),
			TotalBought:   new(big.Int),
			TotalSold:     new(big.Int),
			FirstSeenTick: d.Tick,
		}
		s.data[key] = h
	}

	h.Balance.Add(h.Balance, d.Balance)
	if d.Bought != nil {
		h.TotalBought.Add(h.TotalBought, d.Bought)
	}
	if d.Sold != nil {
		h.TotalSold.Add(h.TotalSold, d.Sold)
	}
	h.BuyCount += d.BuyCount
	h.SellCount += d.SellCount
	if d.Tick > h.LastActivityTick {
		h.LastActivityTick = d.Tick
	}
	return nil
}

// Get retrieves one holder row.
func (s *HolderStore) Get(_ context.Context, address, issuer, name string) (*domain.Holder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.data[holderKey(address, issuer, name)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return h.Clone(), nil
}

// ListByAsset retrieves holders ordered by balance descending.
func (s *HolderStore) ListByAsset(_ context.Context, issuer, name string, limit int) ([]*domain.Holder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Holder
	for _, h := range s.data {
		if h.AssetIssuer == issuer && h.AssetName == name {
			result = append(result, h.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if c := result[i].Balance.Cmp(result[j].Balance); c != 0 {
			return c > 0
		}
		return result[i].Address < result[j].Address
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateComputed overwrites the display-grade derived fields.
func (s *HolderStore) UpdateComputed(_ context.Context, address, issuer, name string, percent float64, isWhale bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.data[holderKey(address, issuer, name)]
	if !ok {
		return storage.ErrNotFound
	}
	h.PercentOfSupply = percent
	h.IsWhale = isWhale
	return nil
}

// Whales retrieves holders currently classified as whales for an asset.
func (s *HolderStore) Whales(_ context.Context, issuer, name string) ([]*domain.Holder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Holder
	for _, h := range s.data {
		if h.AssetIssuer == issuer && h.AssetName == name && h.IsWhale {
			result = append(result, h.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Balance.Cmp(result[j].Balance) > 0
	})
	return result, nil
}
