// Package aggregator maintains per-holder balances and derived asset stats.
package aggregator

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
)

// DefaultWhaleThresholdPercent classifies holders at or above this share of
// supply as whales.
const DefaultWhaleThresholdPercent = 5.0

// AssetStats is the output of a recompute pass over one asset.
type AssetStats struct {
	AssetIssuer string   `json:"asset_issuer"`
	AssetName   string   `json:"asset_name"`
	Supply      *big.Int `json:"supply"` // sum of positive balances
	HolderCount int      `json:"holder_count"`
	WhaleCount  int      `json:"whale_count"`
	// HHI is the Herfindahl-Hirschman concentration index over positive
	// balances, 0..10000.
	HHI float64 `json:"hhi"`
}

// Options configures an Aggregator.
type Options struct {
	// WhaleThresholdPercent is boundary inclusive. Zero means the default.
	WhaleThresholdPercent float64
	Logger                *zap.Logger
}

// Aggregator folds trades into holder rows and recomputes derived fields.
type Aggregator struct {
	holders        storage.HolderStore
	whaleThreshold float64
	logger         *zap.Logger
}

// New creates an Aggregator backed by the given holder store.
func New(holders storage.HolderStore, opts Options) *Aggregator {
	threshold := opts.WhaleThresholdPercent
	if threshold <= 0 {
		threshold = DefaultWhaleThresholdPercent
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		holders:        holders,
		whaleThreshold: threshold,
		logger:         logger,
	}
}

// DeltaForTrade builds the additive holder contribution of one trade. A buy
// adds the quantity to the balance, a sell subtracts it. The delta is
// additive so applying it twice double counts; the indexer commits it
// together with the trade row so the trades table's tx_id uniqueness guards
// both writes at once.
func (a *Aggregator) DeltaForTrade(t *domain.Trade) (*domain.HolderDelta, error) {
	if t == nil || t.Trader == "" {
		return nil, storage.ErrInvalidInput
	}

	qty := big.NewInt(t.Quantity)
	delta := &domain.HolderDelta{
		Address:     t.Trader,
		AssetIssuer: t.AssetIssuer,
		AssetName:   t.AssetName,
		Bought:      new(big.Int),
		Sold:        new(big.Int),
		Tick:        t.Tick,
	}

	switch t.Side {
	case domain.SideBuy:
		delta.Balance = qty
		delta.Bought.Set(qty)
		delta.BuyCount = 1
	case domain.SideSell:
		delta.Balance = new(big.Int).Neg(qty)
		delta.Sold.Set(qty)
		delta.SellCount = 1
	default:
		return nil, fmt.Errorf("%w: unknown trade side %q", storage.ErrInvalidInput, t.Side)
	}
	return delta, nil
}

// ApplyTrade folds one trade into its trader's holder row directly, without
// the trade-row commit. Backfill tooling uses it; the indexer goes through
// a storage.TradeLedger instead so the two writes stay atomic.
func (a *Aggregator) ApplyTrade(ctx context.Context, t *domain.Trade) error {
	delta, err := a.DeltaForTrade(t)
	if err != nil {
		return err
	}
	if err := a.holders.ApplyDelta(ctx, delta); err != nil {
		return fmt.Errorf("apply trade %s: %w", t.TxID, err)
	}
	return nil
}

// Recompute refreshes the display-grade fields of every holder of an asset.
// Supply is the sum of positive balances only; holders with zero or negative
// balances get zero percent and lose whale status.
func (a *Aggregator) Recompute(ctx context.Context, issuer, name string) (*AssetStats, error) {
	holders, err := a.holders.ListByAsset(ctx, issuer, name, 0)
	if err != nil {
		return nil, fmt.Errorf("list holders for recompute: %w", err)
	}

	stats := &AssetStats{
		AssetIssuer: issuer,
		AssetName:   name,
		Supply:      new(big.Int),
		HolderCount: len(holders),
	}

	for _, h := range holders {
		if h.Balance != nil && h.Balance.Sign() > 0 {
			stats.Supply.Add(stats.Supply, h.Balance)
		}
	}

	supply := new(big.Float).SetInt(stats.Supply)
	for _, h := range holders {
		var percent float64
		if h.Balance != nil && h.Balance.Sign() > 0 && stats.Supply.Sign() > 0 {
			share := new(big.Float).Quo(new(big.Float).SetInt(h.Balance), supply)
			frac, _ := share.Float64()
			percent = frac * 100
			stats.HHI += frac * frac * 10000
		}

		isWhale := percent >= a.whaleThreshold
		if isWhale {
			stats.WhaleCount++
		}

		if percent == h.PercentOfSupply && isWhale == h.IsWhale {
			continue
		}
		if err := a.holders.UpdateComputed(ctx, h.Address, issuer, name, percent, isWhale); err != nil {
			return nil, fmt.Errorf("update holder %s: %w", h.Address, err)
		}
	}

	a.logger.Debug("recomputed asset stats",
		zap.String("asset_issuer", issuer),
		zap.String("asset_name", name),
		zap.Int("holders", stats.HolderCount),
		zap.Int("whales", stats.WhaleCount),
		zap.Float64("hhi", stats.HHI),
	)
	return stats, nil
}
