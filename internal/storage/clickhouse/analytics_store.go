package clickhouse

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
)

// AnalyticsStore implements storage.AnalyticsStore using ClickHouse.
// The trade_events table is a ReplacingMergeTree keyed so that re-indexed
// ticks collapse to one row per tx_id; values are display-grade Float64.
type AnalyticsStore struct {
	conn *Conn
}

// NewAnalyticsStore creates a new AnalyticsStore.
func NewAnalyticsStore(conn *Conn) *AnalyticsStore {
	return &AnalyticsStore{conn: conn}
}

var _ storage.AnalyticsStore = (*AnalyticsStore)(nil)

// InsertTrades appends a batch of trades.
func (s *AnalyticsStore) InsertTrades(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trade_events (
			tx_id, tick, timestamp, asset_issuer, asset_name, side, trader,
			price, quantity, total_value
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range trades {
		err = batch.Append(
			t.TxID,
			t.Tick,
			time.UnixMilli(t.Timestamp),
			t.AssetIssuer,
			t.AssetName,
			t.Side,
			t.Trader,
			t.Price,
			t.Quantity,
			bigToFloat(t.TotalValue),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// VolumeBuckets aggregates buy/sell value per interval for an asset.
func (s *AnalyticsStore) VolumeBuckets(ctx context.Context, issuer, name string, from, to int64, bucket time.Duration) ([]storage.VolumeBucket, error) {
	if bucket <= 0 {
		return nil, storage.ErrInvalidInput
	}
	bucketSec := uint64(bucket / time.Second)
	if bucketSec == 0 {
		bucketSec = 1
	}

	query := `
		SELECT
			toUnixTimestamp(toStartOfInterval(timestamp, INTERVAL ? SECOND)) * 1000 AS bucket_start,
			sumIf(total_value, side = 'buy')  AS buy_value,
			sumIf(total_value, side = 'sell') AS sell_value,
			count()                           AS trade_count
		FROM trade_events
		WHERE asset_issuer = ? AND asset_name = ?
		  AND timestamp >= fromUnixTimestamp64Milli(?)
		  AND timestamp <= fromUnixTimestamp64Milli(?)
		GROUP BY bucket_start
		ORDER BY bucket_start ASC
	`
	rows, err := s.conn.Query(ctx, query, bucketSec, issuer, name, from, to)
	if err != nil {
		return nil, fmt.Errorf("query volume buckets: %w", err)
	}
	defer rows.Close()

	var result []storage.VolumeBucket
	for rows.Next() {
		var b storage.VolumeBucket
		var start uint64
		if err := rows.Scan(&start, &b.BuyValue, &b.SellValue, &b.TradeCount); err != nil {
			return nil, fmt.Errorf("scan volume bucket: %w", err)
		}
		b.Start = int64(start)
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate volume buckets: %w", err)
	}
	return result, nil
}

// bigToFloat converts a trade value to the display-grade column type.
func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
