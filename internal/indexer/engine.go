// Package indexer drives the resumable tick-by-tick crawl of QX trades.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"qx-indexer/internal/aggregator"
	"qx-indexer/internal/decoder"
	"qx-indexer/internal/domain"
	"qx-indexer/internal/observability"
	"qx-indexer/internal/qubic"
	"qx-indexer/internal/storage"
)

// ErrAlreadyRunning is returned by Run when an engine instance is active.
// Exactly one engine may index at a time: two engines would double-apply
// holder deltas and corrupt checkpoint ordering.
var ErrAlreadyRunning = errors.New("indexer: already running")

// TradePublisher receives trades as they are indexed, best-effort.
type TradePublisher interface {
	PublishTrade(t *domain.Trade)
}

// Options configures an Engine.
type Options struct {
	// StartTick is the exclusive lower bound used when no checkpoint
	// exists; crawling begins at StartTick+1.
	StartTick uint32

	// BatchSize caps how many ticks one loop iteration processes.
	BatchSize int

	// PollInterval is the sleep between iterations when caught up.
	PollInterval time.Duration

	// MaxTickRetries bounds re-attempts of one tick within an iteration
	// before the error is surfaced.
	MaxTickRetries int

	// RetryDelay is the base delay between tick re-attempts; it doubles
	// per attempt.
	RetryDelay time.Duration

	// Analytics is an optional OLAP sink; failures are logged, never
	// block checkpointing.
	Analytics storage.AnalyticsStore

	// Publisher is an optional live feed; nil disables publishing.
	Publisher TradePublisher

	Logger *zap.Logger

	// Now supplies trade timestamps; defaults to wall clock.
	Now func() int64
}

// Engine crawls ticks in strictly ascending order, decoding QX trades and
// folding them into holder balances, one durable checkpoint per tick.
type Engine struct {
	client      qubic.Client
	decoder     *decoder.Decoder
	checkpoints storage.CheckpointStore
	ledger      storage.TradeLedger
	agg         *aggregator.Aggregator

	startTick      uint32
	batchSize      int
	pollInterval   time.Duration
	maxTickRetries int
	retryDelay     time.Duration

	analytics storage.AnalyticsStore
	publisher TradePublisher
	logger    *zap.Logger
	now       func() int64

	running       atomic.Bool
	mu            sync.RWMutex
	currentTick   uint32
	lastProcessed uint32
}

// NewEngine creates an Engine. Unset options get conservative defaults.
func NewEngine(
	client qubic.Client,
	dec *decoder.Decoder,
	checkpoints storage.CheckpointStore,
	ledger storage.TradeLedger,
	agg *aggregator.Aggregator,
	opts Options,
) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxTickRetries <= 0 {
		opts.MaxTickRetries = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().UnixMilli() }
	}

	return &Engine{
		client:         client,
		decoder:        dec,
		checkpoints:    checkpoints,
		ledger:         ledger,
		agg:            agg,
		startTick:      opts.StartTick,
		batchSize:      opts.BatchSize,
		pollInterval:   opts.PollInterval,
		maxTickRetries: opts.MaxTickRetries,
		retryDelay:     opts.RetryDelay,
		analytics:      opts.Analytics,
		publisher:      opts.Publisher,
		logger:         opts.Logger,
		now:            opts.Now,
	}
}

// Run crawls until ctx is cancelled. The stop check is cooperative: the
// in-flight tick finishes and its checkpoint commits before Run returns.
// Returns ErrAlreadyRunning if another Run is active.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	last, err := e.resume(ctx)
	if err != nil {
		return err
	}
	e.logger.Info("indexer resuming", zap.Uint32("last_processed_tick", last))

	for {
		if err := ctx.Err(); err != nil {
			e.logger.Info("indexer stopped", zap.Uint32("last_processed_tick", e.LastProcessed()))
			return nil
		}

		processed, err := e.iterate(ctx, last)
		last = e.LastProcessed()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Error("indexing iteration failed",
				zap.Uint32("tick", last+1),
				zap.Error(err))
			observability.RecordTickError("iteration")
			if !sleepCtx(ctx, e.pollInterval) {
				return nil
			}
			continue
		}

		if processed == 0 {
			if !sleepCtx(ctx, e.pollInterval) {
				return nil
			}
		}
	}
}

// RunOnce performs a single bounded iteration: useful for tests and for
// catch-up jobs that index a range and exit.
func (e *Engine) RunOnce(ctx context.Context) (int, error) {
	if !e.running.CompareAndSwap(false, true) {
		return 0, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	last, err := e.resume(ctx)
	if err != nil {
		return 0, err
	}
	return e.iterate(ctx, last)
}

// Status reports the crawl position.
func (e *Engine) Status() domain.IndexerStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	behind := int64(e.currentTick) - int64(e.lastProcessed)
	if behind < 0 {
		behind = 0
	}
	return domain.IndexerStatus{
		CurrentTick:       e.currentTick,
		LastProcessedTick: e.lastProcessed,
		TicksBehind:       behind,
	}
}

// LastProcessed returns the highest tick fully committed.
func (e *Engine) LastProcessed() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastProcessed
}

// resume loads the crawl position from the checkpoint store. Falls back to
// the configured start tick when nothing has been indexed yet.
func (e *Engine) resume(ctx context.Context) (uint32, error) {
	cp, err := e.checkpoints.Last(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.setLastProcessed(e.startTick)
			return e.startTick, nil
		}
		return 0, fmt.Errorf("load last checkpoint: %w", err)
	}

	last := cp.Tick
	if e.startTick > last {
		last = e.startTick
	}
	e.setLastProcessed(last)
	return last, nil
}

// iterate processes one bounded batch of ticks. Returns the number of ticks
// committed; zero means the crawl is caught up.
func (e *Engine) iterate(ctx context.Context, last uint32) (int, error) {
	info, err := e.client.CurrentTick(ctx)
	if err != nil {
		return 0, fmt.Errorf("query current tick: %w", err)
	}

	e.mu.Lock()
	e.currentTick = info.Tick
	e.mu.Unlock()

	behind := int64(info.Tick) - int64(last)
	observability.UpdateCrawlPosition(info.Tick, maxInt64(behind, 0))
	if behind <= 0 {
		return 0, nil
	}

	batch := behind
	if batch > int64(e.batchSize) {
		batch = int64(e.batchSize)
	}

	processed := 0
	for i := int64(0); i < batch; i++ {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		tick := last + uint32(i) + 1
		if err := e.processTickWithRetry(ctx, tick); err != nil {
			return processed, fmt.Errorf("process tick %d: %w", tick, err)
		}
		e.setLastProcessed(tick)
		processed++
	}
	return processed, nil
}

// processTickWithRetry re-attempts one tick with doubling delays. The
// checkpoint never advances past a tick that keeps failing.
func (e *Engine) processTickWithRetry(ctx context.Context, tick uint32) error {
	delay := e.retryDelay
	var lastErr error

	for attempt := 0; attempt < e.maxTickRetries; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
			delay *= 2
		}

		lastErr = e.processTick(ctx, tick)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}

		e.logger.Warn("tick processing failed, retrying",
			zap.Uint32("tick", tick),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return lastErr
}

// processTick fully handles one tick: fetch, decode, persist, checkpoint.
// Data writes land before the checkpoint so a crash between the two replays
// the tick instead of losing it.
func (e *Engine) processTick(ctx context.Context, tick uint32) error {
	if _, err := e.checkpoints.Get(ctx, tick); err == nil {
		observability.RecordTickSkipped()
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("check existing checkpoint: %w", err)
	}

	txs, err := e.client.TickTransactions(ctx, tick)
	if err != nil {
		if errors.Is(err, qubic.ErrNotFound) {
			// Tick not produced yet or pruned: checkpoint as zero activity
			// so resume can tell "scanned, empty" from "never scanned".
			txs = nil
		} else {
			observability.RecordTickError("fetch")
			return fmt.Errorf("fetch tick transactions: %w", err)
		}
	}

	trades := e.decodeTick(tick, txs)

	for _, t := range trades {
		delta, err := e.agg.DeltaForTrade(t)
		if err != nil {
			observability.RecordTickError("aggregate")
			return fmt.Errorf("aggregate trade %s: %w", t.TxID, err)
		}
		if err := e.ledger.CommitTrade(ctx, t, delta); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				// Replay after a crash between data and checkpoint writes.
				// The trade and its delta committed together, so nothing
				// is left to apply.
				e.logger.Debug("skipping already indexed trade",
					zap.String("tx_id", t.TxID),
					zap.Uint32("tick", tick))
				continue
			}
			observability.RecordTickError("store")
			return fmt.Errorf("commit trade %s: %w", t.TxID, err)
		}
	}

	cp := &domain.TickCheckpoint{
		Tick:         tick,
		ProcessedAt:  e.now(),
		TxCount:      len(txs),
		MatchedCount: len(trades),
	}
	if err := e.checkpoints.Put(ctx, cp); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		observability.RecordTickError("checkpoint")
		return fmt.Errorf("write checkpoint: %w", err)
	}

	observability.RecordTickProcessed(tick)
	observability.RecordTradesIndexed(len(trades))
	e.fanOut(ctx, trades)

	if len(trades) > 0 {
		e.logger.Info("tick indexed",
			zap.Uint32("tick", tick),
			zap.Int("tx_count", len(txs)),
			zap.Int("matched_count", len(trades)))
	}
	return nil
}

// decodeTick converts the tick's transactions to trade rows. Transactions
// that do not decode are dropped without failing the tick.
func (e *Engine) decodeTick(tick uint32, txs []qubic.Transaction) []*domain.Trade {
	var trades []*domain.Trade
	ts := e.now()

	for i := range txs {
		d := e.decoder.Decode(&txs[i])
		if d == nil {
			continue
		}
		trades = append(trades, &domain.Trade{
			TxID:        d.TxID,
			Tick:        tick,
			Timestamp:   ts,
			AssetIssuer: d.AssetIssuer,
			AssetName:   d.AssetName,
			Side:        d.Side,
			Trader:      d.Trader,
			Price:       d.Price,
			Quantity:    d.Shares,
			TotalValue:  new(big.Int).Set(d.TotalValue),
		})
	}
	return trades
}

// fanOut mirrors indexed trades to the optional analytics sink and live
// feed. Both are best-effort and sit outside the checkpoint commit path.
func (e *Engine) fanOut(ctx context.Context, trades []*domain.Trade) {
	if len(trades) == 0 {
		return
	}

	if e.analytics != nil {
		if err := e.analytics.InsertTrades(ctx, trades); err != nil {
			e.logger.Warn("analytics sink write failed", zap.Error(err))
			observability.RecordDBQueryError("clickhouse", "insert_trades")
		}
	}

	if e.publisher != nil {
		for _, t := range trades {
			e.publisher.PublishTrade(t)
		}
	}
}

func (e *Engine) setLastProcessed(tick uint32) {
	e.mu.Lock()
	if tick > e.lastProcessed {
		e.lastProcessed = tick
	}
	e.mu.Unlock()
}

// sleepCtx sleeps for d unless ctx is cancelled first. Reports whether the
// full sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
