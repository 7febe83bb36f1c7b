package domain

import "math/big"

// Trade represents a decoded QX exchange trade.
// Corresponds to the trades table; tx_id is the primary key, so inserting
// the same trade twice is a no-op at the storage layer.
type Trade struct {
	TxID        string   // chain transaction id (unique)
	Tick        uint32   // tick the transaction was included in
	Timestamp   int64    // Unix timestamp in milliseconds
	AssetIssuer string   // 60-char issuer identity
	AssetName   string   // short ASCII asset name (max 8 chars)
	Side        string   // "buy" | "sell"
	Trader      string   // 60-char trader identity
	Price       int64    // price per share in base units
	Quantity    int64    // number of shares
	TotalValue  *big.Int // price * quantity
}

// Trade side constants
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Clone returns a deep copy of the trade.
func (t *Trade) Clone() *Trade {
	c := *t
	if t.TotalValue != nil {
		c.TotalValue = new(big.Int).Set(t.TotalValue)
	}
	return &c
}
