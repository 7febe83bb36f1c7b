package storage

import (
	"context"
	"math/big"
	"time"

	"qx-indexer/internal/domain"
)

// CheckpointStore provides access to indexed_ticks storage.
// Rows are insert-only; a present tick is never reprocessed.
type CheckpointStore interface {
	// Put records a fully handled tick. Returns ErrDuplicateKey if the tick
	// was already checkpointed.
	Put(ctx context.Context, cp *domain.TickCheckpoint) error

	// Get retrieves the checkpoint for a tick. Returns ErrNotFound if the
	// tick has not been scanned.
	Get(ctx context.Context, tick uint32) (*domain.TickCheckpoint, error)

	// Last returns the highest checkpointed tick. Returns ErrNotFound if
	// nothing has been indexed yet.
	Last(ctx context.Context) (*domain.TickCheckpoint, error)

	// Range retrieves checkpoints within [from, to] inclusive, ascending.
	Range(ctx context.Context, from, to uint32) ([]*domain.TickCheckpoint, error)
}

// TradeStore provides access to trades storage.
type TradeStore interface {
	// Insert adds a trade. Returns ErrDuplicateKey if tx_id exists.
	Insert(ctx context.Context, t *domain.Trade) error

	// GetByAsset retrieves trades for an asset within [from, to] ms,
	// newest first, capped at limit (0 = no cap).
	GetByAsset(ctx context.Context, issuer, name string, from, to int64, limit int) ([]*domain.Trade, error)

	// GetByTrader retrieves trades by a trader, newest first, capped at limit.
	GetByTrader(ctx context.Context, trader string, limit int) ([]*domain.Trade, error)

	// SumValueInWindow sums total_value over all trades for an asset
	// within [from, to] ms.
	SumValueInWindow(ctx context.Context, issuer, name string, from, to int64) (*big.Int, error)

	// BuysAboveValue retrieves buy trades for an asset within [from, to] ms
	// whose total_value >= minValue, largest first, capped at limit.
	BuysAboveValue(ctx context.Context, issuer, name string, from, to int64, minValue *big.Int, limit int) ([]*domain.Trade, error)

	// DistinctTraders lists distinct trader identities active for an asset
	// within [from, to] ms.
	DistinctTraders(ctx context.Context, issuer, name string, from, to int64) ([]string, error)

	// EarliestTradeTime returns the timestamp (ms) of the trader's first
	// trade in the asset. Returns ErrNotFound if the trader has no history.
	EarliestTradeTime(ctx context.Context, issuer, name, trader string) (int64, error)
}

// TradeLedger commits a trade row together with its holder delta. The two
// writes land in one atomic commit: either both are visible or neither is,
// so a crash can never strand a trade without its balance contribution.
type TradeLedger interface {
	// CommitTrade persists t and applies d in a single commit. Returns
	// ErrDuplicateKey if the trade's tx_id already exists; in that case
	// nothing is applied, because the earlier commit carried the delta.
	CommitTrade(ctx context.Context, t *domain.Trade, d *domain.HolderDelta) error
}

// HolderStore provides access to holders storage.
type HolderStore interface {
	// ApplyDelta applies one trade's additive contribution as a single
	// atomic upsert on (address, asset_issuer, asset_name).
	ApplyDelta(ctx context.Context, d *domain.HolderDelta) error

	// Get retrieves one holder row. Returns ErrNotFound if absent.
	Get(ctx context.Context, address, issuer, name string) (*domain.Holder, error)

	// ListByAsset retrieves holders of an asset ordered by balance
	// descending, capped at limit (0 = no cap).
	ListByAsset(ctx context.Context, issuer, name string, limit int) ([]*domain.Holder, error)

	// UpdateComputed overwrites the display-grade derived fields.
	UpdateComputed(ctx context.Context, address, issuer, name string, percent float64, isWhale bool) error

	// Whales retrieves holders currently classified as whales for an asset.
	Whales(ctx context.Context, issuer, name string) ([]*domain.Holder, error)
}

// AlertStore provides access to alert definitions.
type AlertStore interface {
	Create(ctx context.Context, a *domain.Alert) error
	Get(ctx context.Context, id string) (*domain.Alert, error)
	Update(ctx context.Context, a *domain.Alert) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.Alert, error)
	ListActive(ctx context.Context) ([]*domain.Alert, error)

	// MarkTriggered sets last_triggered and increments trigger_count.
	MarkTriggered(ctx context.Context, id string, at int64) error
}

// WebhookStore provides access to webhook subscriptions.
type WebhookStore interface {
	Create(ctx context.Context, w *domain.WebhookSubscription) error
	Get(ctx context.Context, id string) (*domain.WebhookSubscription, error)
	Update(ctx context.Context, w *domain.WebhookSubscription) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.WebhookSubscription, error)

	// ActiveForEvent lists active subscriptions covering an event name.
	ActiveForEvent(ctx context.Context, event string) ([]*domain.WebhookSubscription, error)
}

// VolumeBucket is one aggregated interval of trade volume.
type VolumeBucket struct {
	Start      int64   `json:"start"`       // bucket start, Unix ms
	BuyValue   float64 `json:"buy_value"`   // display-grade
	SellValue  float64 `json:"sell_value"`  // display-grade
	TradeCount uint64  `json:"trade_count"`
}

// AnalyticsStore is an append-only OLAP sink for charting queries.
// It sits outside the checkpoint commit path: writes are best-effort and
// duplicates are tolerated by the backend.
type AnalyticsStore interface {
	// InsertTrades appends a batch of trades.
	InsertTrades(ctx context.Context, trades []*domain.Trade) error

	// VolumeBuckets aggregates buy/sell value per interval for an asset
	// within [from, to] ms.
	VolumeBuckets(ctx context.Context, issuer, name string, from, to int64, bucket time.Duration) ([]VolumeBucket, error)
}
