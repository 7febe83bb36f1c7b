// Package alert evaluates user-defined alert conditions on a fixed cadence.
package alert

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/observability"
	"qx-indexer/internal/storage"
	"qx-indexer/internal/webhook"
)

// Human-readable reasons surfaced by dry-run evaluation.
const (
	ReasonMinVolumeNotMet = "Minimum volume not met"
	ReasonThresholdNotMet = "Threshold not met"
	ReasonNoWhaleTrades   = "No whale trades found"
	ReasonNoTrades        = "No matching trades found"
	ReasonNotEnoughNew    = "Not enough new holders"
)

// Dispatcher hands triggered payloads to subscribers.
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, msg *webhook.Message) []webhook.Outcome
}

// Result is the outcome of evaluating one alert definition.
type Result struct {
	Triggered bool                   `json:"triggered"`
	Reason    string                 `json:"reason,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Options configures an Engine.
type Options struct {
	// Cadence is the evaluation interval; defaults to one minute.
	Cadence time.Duration

	// CycleTimeout bounds one full evaluation pass.
	CycleTimeout time.Duration

	Logger *zap.Logger

	// Now supplies the evaluation wall clock.
	Now func() time.Time
}

// Engine runs all active alert definitions on a cron cadence. Evaluations
// within a cycle run concurrently and are read-only; each alert commits its
// own trigger state (MarkTriggered) before its actions dispatch, so a slow
// webhook cannot roll back or delay another alert's bookkeeping.
type Engine struct {
	alerts     storage.AlertStore
	trades     storage.TradeStore
	holders    storage.HolderStore
	dispatcher Dispatcher

	cadence      time.Duration
	cycleTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time

	cron *cron.Cron
}

// NewEngine creates an Engine over the given stores.
func NewEngine(
	alerts storage.AlertStore,
	trades storage.TradeStore,
	holders storage.HolderStore,
	dispatcher Dispatcher,
	opts Options,
) *Engine {
	if opts.Cadence <= 0 {
		opts.Cadence = time.Minute
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = opts.Cadence
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		alerts:       alerts,
		trades:       trades,
		holders:      holders,
		dispatcher:   dispatcher,
		cadence:      opts.Cadence,
		cycleTimeout: opts.CycleTimeout,
		logger:       opts.Logger,
		now:          opts.Now,
	}
}

// Start schedules the cadence loop. Stop cancels future runs; an in-flight
// cycle completes.
func (e *Engine) Start() error {
	if e.cron != nil {
		return errors.New("alert: engine already started")
	}

	e.cron = cron.New()
	spec := fmt.Sprintf("@every %s", e.cadence)
	if _, err := e.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cycleTimeout)
		defer cancel()
		e.RunCycle(ctx)
	}); err != nil {
		e.cron = nil
		return fmt.Errorf("schedule alert cadence: %w", err)
	}

	e.cron.Start()
	e.logger.Info("alert engine started", zap.Duration("cadence", e.cadence))
	return nil
}

// Stop halts scheduling and waits for a running cycle to finish.
func (e *Engine) Stop() {
	if e.cron == nil {
		return
	}
	<-e.cron.Stop().Done()
	e.cron = nil
	e.logger.Info("alert engine stopped")
}

// RunCycle evaluates every active alert once. Failures are isolated per
// alert: one broken definition cannot starve the rest of the cycle.
func (e *Engine) RunCycle(ctx context.Context) {
	alerts, err := e.alerts.ListActive(ctx)
	if err != nil {
		e.logger.Error("listing active alerts failed", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, a := range alerts {
		wg.Add(1)
		go func(a *domain.Alert) {
			defer wg.Done()
			e.runAlert(ctx, a)
		}(a)
	}
	wg.Wait()
}

// Test evaluates one alert without committing trigger state or dispatching.
// Used by the admin API's dry-run endpoint.
func (e *Engine) Test(ctx context.Context, id string) (*Result, error) {
	a, err := e.alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, a)
}

// runAlert evaluates one alert and, on trigger, commits and dispatches.
func (e *Engine) runAlert(ctx context.Context, a *domain.Alert) {
	observability.RecordAlertEvaluation(a.EventType)

	res, err := e.evaluate(ctx, a)
	if err != nil {
		observability.RecordAlertFailure()
		e.logger.Error("alert evaluation failed",
			zap.String("alert_id", a.ID),
			zap.String("event_type", a.EventType),
			zap.Error(err))
		e.dispatchFailure(ctx, a, err)
		return
	}
	if !res.Triggered {
		return
	}

	triggeredAt := e.now().UnixMilli()
	if err := e.alerts.MarkTriggered(ctx, a.ID, triggeredAt); err != nil {
		// Without the commit the same condition would re-fire every cycle;
		// skip dispatch rather than spam subscribers.
		e.logger.Error("committing alert trigger failed",
			zap.String("alert_id", a.ID),
			zap.Error(err))
		return
	}
	observability.RecordAlertTriggered(a.EventType)

	for _, action := range a.Actions {
		if action.Type != "webhook" {
			e.logger.Warn("skipping unsupported alert action",
				zap.String("alert_id", a.ID),
				zap.String("action_type", action.Type))
			continue
		}
		e.dispatcher.Dispatch(ctx, action.Event, &webhook.Message{
			AlertID:     a.ID,
			AlertName:   a.Name,
			Payload:     res.Payload,
			TriggeredAt: triggeredAt,
		})
	}

	e.logger.Info("alert triggered",
		zap.String("alert_id", a.ID),
		zap.String("name", a.Name),
		zap.String("event_type", a.EventType))
}

// dispatchFailure surfaces a broken definition through the same channel
// subscribers already listen on.
func (e *Engine) dispatchFailure(ctx context.Context, a *domain.Alert, evalErr error) {
	e.dispatcher.Dispatch(ctx, domain.EventAlertFailed, &webhook.Message{
		AlertID:   a.ID,
		AlertName: a.Name,
		Payload: map[string]interface{}{
			"event_type": a.EventType,
			"error":      evalErr.Error(),
		},
		TriggeredAt: e.now().UnixMilli(),
	})
}

// evaluate dispatches by event type. Conditions are clamped before use.
func (e *Engine) evaluate(ctx context.Context, a *domain.Alert) (*Result, error) {
	c := normalizeConditions(a.Conditions)

	switch a.EventType {
	case domain.EventVolumeSpike:
		return e.evalVolumeSpike(ctx, c)
	case domain.EventWhaleBuy:
		return e.evalWhaleBuy(ctx, c)
	case domain.EventHolderSurge:
		return e.evalHolderSurge(ctx, c)
	default:
		return nil, fmt.Errorf("unknown alert event type %q", a.EventType)
	}
}

// evalVolumeSpike compares the trailing window's summed trade value against
// the preceding window of equal length.
func (e *Engine) evalVolumeSpike(ctx context.Context, c domain.AlertConditions) (*Result, error) {
	now := e.now().UnixMilli()
	window := int64(c.PeriodMinutes) * 60_000

	current, err := e.trades.SumValueInWindow(ctx, c.AssetIssuer, c.AssetName, now-window, now)
	if err != nil {
		return nil, fmt.Errorf("sum current window: %w", err)
	}
	previous, err := e.trades.SumValueInWindow(ctx, c.AssetIssuer, c.AssetName, now-2*window, now-window-1)
	if err != nil {
		return nil, fmt.Errorf("sum previous window: %w", err)
	}

	percentChange := percentChange(current, previous)
	payload := map[string]interface{}{
		"asset_issuer":    c.AssetIssuer,
		"asset_name":      c.AssetName,
		"period_minutes":  c.PeriodMinutes,
		"current_volume":  bigToFloat(current),
		"previous_volume": bigToFloat(previous),
		"percent_change":  percentChange,
	}

	if current.Cmp(big.NewInt(c.MinVolume)) < 0 {
		return &Result{Reason: ReasonMinVolumeNotMet, Payload: payload}, nil
	}
	if percentChange < c.ThresholdPercent {
		return &Result{Reason: ReasonThresholdNotMet, Payload: payload}, nil
	}
	return &Result{Triggered: true, Payload: payload}, nil
}

// evalWhaleBuy looks for large buys in the lookback window, optionally
// restricted to holders currently classified as whales.
func (e *Engine) evalWhaleBuy(ctx context.Context, c domain.AlertConditions) (*Result, error) {
	now := e.now().UnixMilli()
	from := now - int64(c.LookbackMinutes)*60_000

	buys, err := e.trades.BuysAboveValue(ctx, c.AssetIssuer, c.AssetName, from, now, big.NewInt(c.MinValue), c.Limit)
	if err != nil {
		return nil, fmt.Errorf("query large buys: %w", err)
	}

	if c.WhalesOnly {
		whales, err := e.holders.Whales(ctx, c.AssetIssuer, c.AssetName)
		if err != nil {
			return nil, fmt.Errorf("query whales: %w", err)
		}
		whaleSet := make(map[string]struct{}, len(whales))
		for _, w := range whales {
			whaleSet[w.Address] = struct{}{}
		}

		filtered := buys[:0]
		for _, b := range buys {
			if _, ok := whaleSet[b.Trader]; ok {
				filtered = append(filtered, b)
			}
		}
		buys = filtered
	}

	if len(buys) == 0 {
		reason := ReasonNoTrades
		if c.WhalesOnly {
			reason = ReasonNoWhaleTrades
		}
		return &Result{Reason: reason}, nil
	}

	summaries := make([]map[string]interface{}, len(buys))
	for i, b := range buys {
		summaries[i] = map[string]interface{}{
			"tx_id":       b.TxID,
			"trader":      b.Trader,
			"price":       b.Price,
			"quantity":    b.Quantity,
			"total_value": bigToFloat(b.TotalValue),
			"timestamp":   b.Timestamp,
		}
	}

	return &Result{
		Triggered: true,
		Payload: map[string]interface{}{
			"asset_issuer":     c.AssetIssuer,
			"asset_name":       c.AssetName,
			"lookback_minutes": c.LookbackMinutes,
			"trade_count":      len(buys),
			"trades":           summaries,
		},
	}, nil
}

// evalHolderSurge counts traders active in the lookback window whose first
// ever trade in the asset falls inside that window.
func (e *Engine) evalHolderSurge(ctx context.Context, c domain.AlertConditions) (*Result, error) {
	now := e.now().UnixMilli()
	from := now - int64(c.LookbackMinutes)*60_000

	traders, err := e.trades.DistinctTraders(ctx, c.AssetIssuer, c.AssetName, from, now)
	if err != nil {
		return nil, fmt.Errorf("query active traders: %w", err)
	}
	if len(traders) > c.SampleSize {
		traders = traders[:c.SampleSize]
	}

	var newHolders []string
	for _, trader := range traders {
		first, err := e.trades.EarliestTradeTime(ctx, c.AssetIssuer, c.AssetName, trader)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("query first trade for %s: %w", trader, err)
		}
		if first >= from {
			newHolders = append(newHolders, trader)
		}
	}

	payload := map[string]interface{}{
		"asset_issuer":     c.AssetIssuer,
		"asset_name":       c.AssetName,
		"lookback_minutes": c.LookbackMinutes,
		"new_holders":      len(newHolders),
		"addresses":        newHolders,
	}

	if len(newHolders) < c.MinNewHolders {
		return &Result{Reason: ReasonNotEnoughNew, Payload: payload}, nil
	}
	return &Result{Triggered: true, Payload: payload}, nil
}

// percentChange implements the spike ratio with the zero-previous rule:
// a window coming from nothing counts as a 1000% move, not a divide error.
func percentChange(current, previous *big.Int) float64 {
	if previous.Sign() == 0 {
		if current.Sign() > 0 {
			return 1000
		}
		return 0
	}

	diff := new(big.Float).Sub(new(big.Float).SetInt(current), new(big.Float).SetInt(previous))
	ratio := new(big.Float).Quo(diff, new(big.Float).SetInt(previous))
	f, _ := ratio.Float64()
	return f * 100
}

func bigToFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
