package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
)

// HolderStore implements storage.HolderStore using PostgreSQL.
type HolderStore struct {
	pool *Pool
}

// NewHolderStore creates a new HolderStore.
func NewHolderStore(pool *Pool) *HolderStore {
	return &HolderStore{pool: pool}
}

var _ storage.HolderStore = (*HolderStore)(nil)

const holderColumns = `
	address, asset_issuer, asset_name, balance::text, percentage,
	first_seen_tick, last_activity_tick, total_bought::text, total_sold::text,
	buy_count, sell_count, is_whale
`

// The conflict arms add to the stored values rather than overwrite them, so
// concurrent batches cannot lose updates.
const applyHolderDeltaSQL = `
	INSERT INTO holders (
		address, asset_issuer, asset_name, balance,
		first_seen_tick, last_activity_tick,
		total_bought, total_sold, buy_count, sell_count
	) VALUES ($1, $2, $3, $4::numeric, $5, $5, $6::numeric, $7::numeric, $8, $9)
	ON CONFLICT (address, asset_issuer, asset_name) DO UPDATE SET
		balance = holders.balance + EXCLUDED.balance,
		total_bought = holders.total_bought + EXCLUDED.total_bought,
		total_sold = holders.total_sold + EXCLUDED.total_sold,
		buy_count = holders.buy_count + EXCLUDED.buy_count,
		sell_count = holders.sell_count + EXCLUDED.sell_count,
		last_activity_tick = GREATEST(holders.last_activity_tick, EXCLUDED.last_activity_tick)
`

func applyHolderDeltaArgs(d *domain.HolderDelta) []interface{} {
	return []interface{}{
		d.Address,
		d.AssetIssuer,
		d.AssetName,
		bigText(d.Balance),
		int64(d.Tick),
		bigText(d.Bought),
		bigText(d.Sold),
		d.BuyCount,
		d.SellCount,
	}
}

// ApplyDelta applies one trade's additive contribution as a single upsert.
func (s *HolderStore) ApplyDelta(ctx context.Context, d *domain.HolderDelta) error {
	if d == nil || d.Address == "" || d.Balance == nil {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, applyHolderDeltaSQL, applyHolderDeltaArgs(d)...)
	if err != nil {
		return fmt.Errorf("apply holder delta: %w", err)
	}
	return nil
}

// Get retrieves one holder row.
func (s *HolderStore) Get(ctx context.Context, address, issuer, name string) (*domain.Holder, error) {
	query := `
		SELECT ` + holderColumns + `
		FROM holders
		WHERE address = $1 AND asset_issuer = $2 AND asset_name = $3
	`
	h, err := scanHolder(s.pool.QueryRow(ctx, query, address, issuer, name))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get holder: %w", err)
	}
	return h, nil
}

// ListByAsset retrieves holders ordered by balance descending.
func (s *HolderStore) ListByAsset(ctx context.Context, issuer, name string, limit int) ([]*domain.Holder, error) {
	query := `
		SELECT ` + holderColumns + `
		FROM holders
		WHERE asset_issuer = $1 AND asset_name = $2
		ORDER BY balance DESC, address
	`
	args := []interface{}{issuer, name}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list holders: %w", err)
	}
	defer rows.Close()
	return scanHolders(rows)
}

// UpdateComputed overwrites the display-grade derived fields.
func (s *HolderStore) UpdateComputed(ctx context.Context, address, issuer, name string, percent float64, isWhale bool) error {
	query := `
		UPDATE holders
		SET percentage = $4, is_whale = $5
		WHERE address = $1 AND asset_issuer = $2 AND asset_name = $3
	`
	tag, err := s.pool.Exec(ctx, query, address, issuer, name, percent, isWhale)
	if err != nil {
		return fmt.Errorf("update holder computed fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Whales retrieves holders currently classified as whales for an asset.
func (s *HolderStore) Whales(ctx context.Context, issuer, name string) ([]*domain.Holder, error) {
	query := `
		SELECT ` + holderColumns + `
		FROM holders
		WHERE asset_issuer = $1 AND asset_name = $2 AND is_whale
		ORDER BY balance DESC, address
	`
	rows, err := s.pool.Query(ctx, query, issuer, name)
	if err != nil {
		return nil, fmt.Errorf("list whales: %w", err)
	}
	defer rows.Close()
	return scanHolders(rows)
}

func scanHolder(row pgx.Row) (*domain.Holder, error) {
	var h domain.Holder
	var firstSeen, lastActivity int64
	var balanceText, boughtText, soldText string

	err := row.Scan(
		&h.Address,
		&h.AssetIssuer,
		&h.AssetName,
		&balanceText,
		&h.PercentOfSupply,
		&firstSeen,
		&lastActivity,
		&boughtText,
		&soldText,
		&h.BuyCount,
		&h.SellCount,
		&h.IsWhale,
	)
	if err != nil {
		return nil, err
	}

	h.FirstSeenTick = uint32(firstSeen)
	h.LastActivityTick = uint32(lastActivity)
	if h.Balance, err = bigFromText(balanceText); err != nil {
		return nil, err
	}
	if h.TotalBought, err = bigFromText(boughtText); err != nil {
		return nil, err
	}
	if h.TotalSold, err = bigFromText(soldText); err != nil {
		return nil, err
	}
	return &h, nil
}

func scanHolders(rows pgx.Rows) ([]*domain.Holder, error) {
	var holders []*domain.Holder
	for rows.Next() {
		h, err := scanHolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan holder row: %w", err)
		}
		holders = append(holders, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holder rows: %w", err)
	}
	return holders, nil
}
