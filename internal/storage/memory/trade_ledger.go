package memory

import (
	"context"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
)

// TradeLedger is an in-memory implementation of storage.TradeLedger over a
// TradeStore and a HolderStore. The insert doubles as the duplicate guard:
// the delta is only applied when the trade row is new, and an insert whose
// delta fails is backed out, so the pair behaves like one commit.
type TradeLedger struct {
	trades  *TradeStore
	holders *HolderStore
}

// NewTradeLedger creates a ledger over the given stores.
func NewTradeLedger(trades *TradeStore, holders *HolderStore) *TradeLedger {
	return &TradeLedger{trades: trades, holders: holders}
}

var _ storage.TradeLedger = (*TradeLedger)(nil)

// CommitTrade persists t and applies d together. Returns ErrDuplicateKey if
// the trade already exists; nothing is applied in that case.
func (l *TradeLedger) CommitTrade(ctx context.Context, t *domain.Trade, d *domain.HolderDelta) error {
	if err := l.trades.Insert(ctx, t); err != nil {
		return err
	}
	if err := l.holders.ApplyDelta(ctx, d); err != nil {
		l.trades.remove(t.TxID)
		return err
	}
	return nil
}
