package aggregator

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
	"qx-indexer/internal/storage/memory"
)

const (
	issuer = "CFBMEMZOIDEXQAUXYYSZIURADQLAPWPMNJXQSNVQZAHYVOPYUKKJBJUCTVJL"
	asset  = "QXA"
)

func trade(txID, trader, side string, price, qty int64, tick uint32) *domain.Trade {
	return &domain.Trade{
		TxID:        txID,
		Tick:        tick,
		Timestamp:   int64(tick) * 1000,
		AssetIssuer: issuer,
		AssetName:   asset,
		Side:        side,
		Trader:      trader,
		Price:       price,
		Quantity:    qty,
		TotalValue:  new(big.Int).Mul(big.NewInt(price), big.NewInt(qty)),
	}
}

func TestApplyTrade(t *testing.T) {
	ctx := context.Background()
	holders := memory.NewHolderStore()
	agg := New(holders, Options{})

	trader := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

	if err := agg.ApplyTrade(ctx, trade("tx-1", trader, domain.SideBuy, 5, 1000, 100)); err != nil {
		t.Fatalf("apply buy: %v", err)
	}

	h, err := holders.Get(ctx, trader, issuer, asset)
	if err != nil {
		t.Fatalf("get holder: %v", err)
	}
	if h.Balance.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("balance after buy = %s, want 1000", h.Balance)
	}
	if h.TotalBought.Cmp(big.NewInt(1000)) != 0 || h.BuyCount != 1 {
		t.Errorf("bought = %s count = %d, want 1000 and 1", h.TotalBought, h.BuyCount)
	}
	if h.FirstSeenTick != 100 {
		t.Errorf("first seen tick = %d, want 100", h.FirstSeenTick)
	}

	if err := agg.ApplyTrade(ctx, trade("tx-2", trader, domain.SideSell, 6, 400, 105)); err != nil {
		t.Fatalf("apply sell: %v", err)
	}

	h, err = holders.Get(ctx, trader, issuer, asset)
	if err != nil {
		t.Fatalf("get holder: %v", err)
	}
	if h.Balance.Cmp(big.NewInt(600)) != 0 {
		t.Errorf("balance after sell = %s, want 600", h.Balance)
	}
	if h.TotalSold.Cmp(big.NewInt(400)) != 0 || h.SellCount != 1 {
		t.Errorf("sold = %s count = %d, want 400 and 1", h.TotalSold, h.SellCount)
	}
	if h.LastActivityTick != 105 {
		t.Errorf("last activity tick = %d, want 105", h.LastActivityTick)
	}
}

func TestApplyTradeSellBeforeBuyGoesNegative(t *testing.T) {
	ctx := context.Background()
	holders := memory.NewHolderStore()
	agg := New(holders, Options{})

	trader := "BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	if err := agg.ApplyTrade(ctx, trade("tx-1", trader, domain.SideSell, 5, 300, 100)); err != nil {
		t.Fatalf("apply sell: %v", err)
	}

	h, err := holders.Get(ctx, trader, issuer, asset)
	if err != nil {
		t.Fatalf("get holder: %v", err)
	}
	if h.Balance.Cmp(big.NewInt(-300)) != 0 {
		t.Errorf("balance = %s, want -300", h.Balance)
	}
}

func TestApplyTradeInvalid(t *testing.T) {
	ctx := context.Background()
	agg := New(memory.NewHolderStore(), Options{})

	if err := agg.ApplyTrade(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("nil trade: got %v, want ErrInvalidInput", err)
	}

	bad := trade("tx-1", "AAAA", "hold", 5, 100, 100)
	if err := agg.ApplyTrade(ctx, bad); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("bad side: got %v, want ErrInvalidInput", err)
	}
}

func TestRecompute(t *testing.T) {
	ctx := context.Background()
	holders := memory.NewHolderStore()
	agg := New(holders, Options{})

	seed := []struct {
		trader  string
		balance int64
	}{
		{"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", 600},
		{"BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB", 400},
		{"CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC", -50},
	}
	for i, s := range seed {
		delta := &domain.HolderDelta{
			Address:     s.trader,
			AssetIssuer: issuer,
			AssetName:   asset,
			Balance:     big.NewInt(s.balance),
			Bought:      new(big.Int),
			Sold:        new(big.Int),
			Tick:        uint32(100 + i),
		}
		if err := holders.ApplyDelta(ctx, delta); err != nil {
			t.Fatalf("seed holder: %v", err)
		}
	}

	stats, err := agg.Recompute(ctx, issuer, asset)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}

	// Negative balance excluded from supply.
	if stats.Supply.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("supply = %s, want 1000", stats.Supply)
	}
	if stats.HolderCount != 3 {
		t.Errorf("holder count = %d, want 3", stats.HolderCount)
	}
	if stats.WhaleCount != 2 {
		t.Errorf("whale count = %d, want 2", stats.WhaleCount)
	}
	// 0.6^2 + 0.4^2 = 0.52
	if stats.HHI < 5199.9 || stats.HHI > 5200.1 {
		t.Errorf("hhi = %f, want 5200", stats.HHI)
	}

	h, err := holders.Get(ctx, seed[0].trader, issuer, asset)
	if err != nil {
		t.Fatalf("get holder: %v", err)
	}
	if h.PercentOfSupply < 59.99 || h.PercentOfSupply > 60.01 {
		t.Errorf("percent = %f, want 60", h.PercentOfSupply)
	}
	if !h.IsWhale {
		t.Error("60%% holder should be a whale")
	}

	h, err = holders.Get(ctx, seed[2].trader, issuer, asset)
	if err != nil {
		t.Fatalf("get holder: %v", err)
	}
	if h.PercentOfSupply != 0 || h.IsWhale {
		t.Errorf("negative holder: percent = %f whale = %v, want 0 and false", h.PercentOfSupply, h.IsWhale)
	}
}

func TestRecomputeWhaleBoundaryInclusive(t *testing.T) {
	ctx := context.Background()
	holders := memory.NewHolderStore()
	agg := New(holders, Options{})

	seed := map[string]int64{
		"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA": 950,
		"BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB": 50, // exactly 5%
	}
	for trader, balance := range seed {
		delta := &domain.HolderDelta{
			Address:     trader,
			AssetIssuer: issuer,
			AssetName:   asset,
			Balance:     big.NewInt(balance),
			Bought:      new(big.Int),
			Sold:        new(big.Int),
			Tick:        100,
		}
		if err := holders.ApplyDelta(ctx, delta); err != nil {
			t.Fatalf("seed holder: %v", err)
		}
	}

	stats, err := agg.Recompute(ctx, issuer, asset)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if stats.WhaleCount != 2 {
		t.Errorf("whale count = %d, want 2 (threshold boundary counts)", stats.WhaleCount)
	}
}

func TestRecomputeEmptyAsset(t *testing.T) {
	ctx := context.Background()
	agg := New(memory.NewHolderStore(), Options{})

	stats, err := agg.Recompute(ctx, issuer, asset)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if stats.Supply.Sign() != 0 || stats.HolderCount != 0 || stats.HHI != 0 {
		t.Errorf("empty asset stats = %+v, want zeros", stats)
	}
}

func TestCustomWhaleThreshold(t *testing.T) {
	ctx := context.Background()
	holders := memory.NewHolderStore()
	agg := New(holders, Options{WhaleThresholdPercent: 50})

	seed := map[string]int64{
		"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA": 600,
		"BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB": 400,
	}
	for trader, balance := range seed {
		delta := &domain.HolderDelta{
			Address:     trader,
			AssetIssuer: issuer,
			AssetName:   asset,
			Balance:     big.NewInt(balance),
			Bought:      new(big.Int),
			Sold:        new(big.Int),
			Tick:        100,
		}
		if err := holders.ApplyDelta(ctx, delta); err != nil {
			t.Fatalf("seed holder: %v", err)
		}
	}

	stats, err := agg.Recompute(ctx, issuer, asset)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if stats.WhaleCount != 1 {
		t.Errorf("whale count = %d, want 1 at 50%% threshold", stats.WhaleCount)
	}
}
