package domain

import "math/big"

// Holder tracks the running position of one address in one asset.
// Keyed by (address, asset_issuer, asset_name). Balance may transiently go
// negative when a sell is observed before its matching buy (partial history).
type Holder struct {
	Address          string
	AssetIssuer      string
	AssetName        string
	Balance          *big.Int // signed running balance
	PercentOfSupply  float64  // display-grade, set by Recompute
	FirstSeenTick    uint32
	LastActivityTick uint32
	TotalBought      *big.Int
	TotalSold        *big.Int
	BuyCount         int64
	SellCount        int64
	IsWhale          bool
}

// Clone returns a deep copy of the holder.
func (h *Holder) Clone() *Holder {
	c := *h
	if h.Balance != nil {
		c.Balance = new(big.Int).Set(h.Balance)
	}
	if h.TotalBought != nil {
		c.TotalBought = new(big.Int).Set(h.TotalBought)
	}
	if h.TotalSold != nil {
		c.TotalSold = new(big.Int).Set(h.TotalSold)
	}
	return &c
}

// HolderDelta is one trade's additive contribution to a holder row.
// Deltas are applied with a single atomic upsert so replays and concurrent
// batches cannot produce lost updates.
type HolderDelta struct {
	Address     string
	AssetIssuer string
	AssetName   string
	Balance     *big.Int // signed; negative for sells
	Bought      *big.Int // zero for sells
	Sold        *big.Int // zero for buys
	BuyCount    int64
	SellCount   int64
	Tick        uint32
}
