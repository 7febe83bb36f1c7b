package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Trade // keyed by tx_id
	seq  []string                 // insertion order, for stable tie-breaks
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.Trade),
	}
}

var _ storage.TradeStore = (*TradeStore)(nil)

// Insert adds a trade. Returns ErrDuplicateKey if tx_id exists.
func (s *TradeStore) Insert(_ context.Context, t *domain.Trade) error {
	if t == nil || t.TxID == "" || t.TotalValue == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.TxID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[t.TxID] = t.Clone()
	s.seq = append(s.seq, t.TxID)
	return nil
}

// remove undoes an insert. Only the TradeLedger calls it, to back out a
// trade whose holder delta could not be applied.
func (s *TradeStore) remove(txID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[txID]; !exists {
		return
	}
	delete(s.data, txID)
	for i, id := range s.seq {
		if id == txID {
			s.seq = append(s.seq[:i], s.seq[i+1:]...)
			break
		}
	}
}

// matchAsset reports whether a trade belongs to the asset and window.
func matchAsset(t *domain.Trade, issuer, name string, from, to int64) bool {
	return t.AssetIssuer == issuer && t.AssetName == name &&
		t.Timestamp >= from && t.Timestamp <= to
}

// GetByAsset retrieves trades for an asset within [from, to] ms, newest first.
func (s *TradeStore) GetByAsset(_ context.Context, issuer, name string, from, to int64, limit int) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, txID := range s.seq {
		if t := s.data[txID]; matchAsset(t, issuer, name, from, to) {
			result = append(result, t.Clone())
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp > result[j].Timestamp
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetByTrader retrieves trades by a trader, newest first.
func (s *TradeStore) GetByTrader(_ context.Context, trader string, limit int) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, txID := range s.seq {
		if t := s.data[txID]; t.Trader == trader {
			result = append(result, t.Clone())
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp > result[j].Timestamp
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SumValueInWindow sums total_value over trades for an asset in [from, to] ms.
func (s *TradeStore) SumValueInWindow(_ context.Context, issuer, name string, from, to int64) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := new(big.Int)
	for _, t := range s.data {
		if matchAsset(t, issuer, name, from, to) {
			sum.Add(sum, t.TotalValue)
		}
	}
	return sum, nil
}

// BuysAboveValue retrieves buy trades with total_value >= minValue, largest first.
func (s *TradeStore) BuysAboveValue(_ context.Context, issuer, name string, from, to int64, minValue *big.Int, limit int) ([]*domain.Trade, error) {
	if minValue == nil {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, txID := range s.seq {
		t := s.data[txID]
		if t.Side == domain.SideBuy && matchAsset(t, issuer, name, from, to) && t.TotalValue.Cmp(minValue) >= 0 {
			result = append(result, t.Clone())
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TotalValue.Cmp(result[j].TotalValue) > 0
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// DistinctTraders lists distinct traders active for an asset in [from, to] ms.
func (s *TradeStore) DistinctTraders(_ context.Context, issuer, name string, from, to int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var result []string
	for _, txID := range s.seq {
		t := s.data[txID]
		if matchAsset(t, issuer, name, from, to) {
			if _, ok := seen[t.Trader]; !ok {
				seen[t.Trader] = struct{}{}
				result = append(result, t.Trader)
			}
		}
	}
	return result, nil
}

// EarliestTradeTime returns the timestamp of the trader's first trade in the asset.
func (s *TradeStore) EarliestTradeTime(_ context.Context, issuer, name, trader string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var earliest int64
	found := false
	for _, t := range s.data {
		if t.AssetIssuer == issuer && t.AssetName == name && t.Trader == trader {
			if !found || t.Timestamp < earliest {
				earliest = t.Timestamp
				found = true
			}
		}
	}
	if !found {
		return 0, storage.ErrNotFound
	}
	return earliest, nil
}
