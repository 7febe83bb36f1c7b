package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
)

// TradeLedger implements storage.TradeLedger using PostgreSQL. The trade
// insert and the holder upsert run in one transaction: a crash mid-tick can
// never leave a trade row without its balance contribution.
type TradeLedger struct {
	pool *Pool
}

// NewTradeLedger creates a new TradeLedger.
func NewTradeLedger(pool *Pool) *TradeLedger {
	return &TradeLedger{pool: pool}
}

var _ storage.TradeLedger = (*TradeLedger)(nil)

// CommitTrade persists t and applies d atomically. Returns ErrDuplicateKey
// if the trade already exists; the transaction rolls back and the holder row
// is untouched.
func (l *TradeLedger) CommitTrade(ctx context.Context, t *domain.Trade, d *domain.HolderDelta) error {
	if t == nil || t.TxID == "" || t.TotalValue == nil {
		return storage.ErrInvalidInput
	}
	if d == nil || d.Address == "" || d.Balance == nil {
		return storage.ErrInvalidInput
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin trade commit: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertTradeSQL, insertTradeArgs(t)...); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	if _, err := tx.Exec(ctx, applyHolderDeltaSQL, applyHolderDeltaArgs(d)...); err != nil {
		return fmt.Errorf("apply holder delta: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit trade %s: %w", t.TxID, err)
	}
	return nil
}
