package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ storage.TradeStore = (*TradeStore)(nil)

const tradeColumns = `
	tx_id, tick, timestamp, asset_issuer, asset_name, side, trader,
	price, quantity, total_value::text
`

const insertTradeSQL = `
	INSERT INTO trades (
		tx_id, tick, timestamp, asset_issuer, asset_name, side, trader,
		price, quantity, total_value
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric)
`

func insertTradeArgs(t *domain.Trade) []interface{} {
	return []interface{}{
		t.TxID,
		int64(t.Tick),
		t.Timestamp,
		t.AssetIssuer,
		t.AssetName,
		t.Side,
		t.Trader,
		t.Price,
		t.Quantity,
		bigText(t.TotalValue),
	}
}

// Insert adds a trade. Returns ErrDuplicateKey if tx_id exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	if t == nil || t.TxID == "" || t.TotalValue == nil {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, insertTradeSQL, insertTradeArgs(t)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetByAsset retrieves trades for an asset within [from, to] ms, newest first.
func (s *TradeStore) GetByAsset(ctx context.Context, issuer, name string, from, to int64, limit int) ([]*domain.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE asset_issuer = $1 AND asset_name = $2 AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp DESC, tx_id
	`
	args := []interface{}{issuer, name, from, to}
	if limit > 0 {
		query += ` LIMIT $5`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get trades by asset: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// GetByTrader retrieves trades by a trader, newest first.
func (s *TradeStore) GetByTrader(ctx context.Context, trader string, limit int) ([]*domain.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE trader = $1
		ORDER BY timestamp DESC, tx_id
	`
	args := []interface{}{trader}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get trades by trader: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// SumValueInWindow sums total_value over trades for an asset in [from, to] ms.
func (s *TradeStore) SumValueInWindow(ctx context.Context, issuer, name string, from, to int64) (*big.Int, error) {
	query := `
		SELECT COALESCE(SUM(total_value), 0)::text
		FROM trades
		WHERE asset_issuer = $1 AND asset_name = $2 AND timestamp >= $3 AND timestamp <= $4
	`
	var text string
	if err := s.pool.QueryRow(ctx, query, issuer, name, from, to).Scan(&text); err != nil {
		return nil, fmt.Errorf("sum trade value: %w", err)
	}
	return bigFromText(text)
}

// BuysAboveValue retrieves buy trades with total_value >= minValue, largest first.
func (s *TradeStore) BuysAboveValue(ctx context.Context, issuer, name string, from, to int64, minValue *big.Int, limit int) ([]*domain.Trade, error) {
	if minValue == nil {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE asset_issuer = $1 AND asset_name = $2
		  AND side = $3
		  AND timestamp >= $4 AND timestamp <= $5
		  AND total_value >= $6::numeric
		ORDER BY total_value DESC, tx_id
	`
	args := []interface{}{issuer, name, domain.SideBuy, from, to, bigText(minValue)}
	if limit > 0 {
		query += ` LIMIT $7`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get buys above value: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// DistinctTraders lists distinct traders active for an asset in [from, to] ms.
func (s *TradeStore) DistinctTraders(ctx context.Context, issuer, name string, from, to int64) ([]string, error) {
	query := `
		SELECT DISTINCT trader
		FROM trades
		WHERE asset_issuer = $1 AND asset_name = $2 AND timestamp >= $3 AND timestamp <= $4
	`
	rows, err := s.pool.Query(ctx, query, issuer, name, from, to)
	if err != nil {
		return nil, fmt.Errorf("get distinct traders: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var trader string
		if err := rows.Scan(&trader); err != nil {
			return nil, fmt.Errorf("scan trader row: %w", err)
		}
		result = append(result, trader)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trader rows: %w", err)
	}
	return result, nil
}

// EarliestTradeTime returns the timestamp of the trader's first trade in the asset.
func (s *TradeStore) EarliestTradeTime(ctx context.Context, issuer, name, trader string) (int64, error) {
	query := `
		SELECT MIN(timestamp)
		FROM trades
		WHERE asset_issuer = $1 AND asset_name = $2 AND trader = $3
	`
	var ts *int64
	if err := s.pool.QueryRow(ctx, query, issuer, name, trader).Scan(&ts); err != nil {
		return 0, fmt.Errorf("get earliest trade time: %w", err)
	}
	if ts == nil {
		return 0, storage.ErrNotFound
	}
	return *ts, nil
}

// scanTrades scans multiple rows into a slice of Trade.
func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		var t domain.Trade
		var tick int64
		var totalText string

		err := rows.Scan(
			&t.TxID,
			&tick,
			&t.Timestamp,
			&t.AssetIssuer,
			&t.AssetName,
			&t.Side,
			&t.Trader,
			&t.Price,
			&t.Quantity,
			&totalText,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}

		t.Tick = uint32(tick)
		t.TotalValue, err = bigFromText(totalText)
		if err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return trades, nil
}
