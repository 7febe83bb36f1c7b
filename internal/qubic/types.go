package qubic

import (
	"context"
	"errors"
	"math/big"
)

// TickInfo describes the chain's current production position.
type TickInfo struct {
	Tick     uint32 `json:"tick"`
	Epoch    uint32 `json:"epoch"`
	Duration uint32 `json:"duration"` // seconds per tick, informational
}

// Transaction is a raw ledger transaction as returned by the node.
// InputData is already base64-decoded by the client.
type Transaction struct {
	Source      string
	Destination string
	Amount      int64
	InputType   uint32
	InputSize   uint32
	InputData   []byte
	TxID        string
}

// Client issues read-only calls against a ledger node.
type Client interface {
	// CurrentTick returns the node's latest tick.
	CurrentTick(ctx context.Context) (*TickInfo, error)

	// TickTransactions returns all transactions included in a tick.
	// Returns ErrNotFound if the tick has not been produced yet; an empty
	// slice means the tick exists but carried no transactions.
	TickTransactions(ctx context.Context, tick uint32) ([]Transaction, error)

	// Balance returns the current balance of an identity.
	Balance(ctx context.Context, id string) (*big.Int, error)
}

// Client errors. ErrRateLimited is handled internally by the HTTP client's
// backoff loop and only surfaces once retries are exhausted.
var (
	ErrNotFound    = errors.New("qubic: not found")
	ErrRateLimited = errors.New("qubic: rate limited")
)
