package indexer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"qx-indexer/internal/aggregator"
	"qx-indexer/internal/decoder"
	"qx-indexer/internal/domain"
	"qx-indexer/internal/identity"
	"qx-indexer/internal/qubic"
	"qx-indexer/internal/storage"
	"qx-indexer/internal/storage/memory"
)

const (
	qxContract = "BAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAFAIB"
	testTrader = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
)

// stubClient serves canned ticks. Ticks not present in txs return ErrNotFound.
type stubClient struct {
	mu          sync.Mutex
	currentTick uint32
	txs         map[uint32][]qubic.Transaction
	failures    map[uint32]error
	fetchCalls  map[uint32]int
}

func newStubClient(current uint32) *stubClient {
	return &stubClient{
		currentTick: current,
		txs:         make(map[uint32][]qubic.Transaction),
		failures:    make(map[uint32]error),
		fetchCalls:  make(map[uint32]int),
	}
}

func (c *stubClient) CurrentTick(context.Context) (*qubic.TickInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &qubic.TickInfo{Tick: c.currentTick, Epoch: 1}, nil
}

func (c *stubClient) TickTransactions(_ context.Context, tick uint32) ([]qubic.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fetchCalls[tick]++
	if err, ok := c.failures[tick]; ok {
		return nil, err
	}
	txs, ok := c.txs[tick]
	if !ok {
		return nil, qubic.ErrNotFound
	}
	return txs, nil
}

func (c *stubClient) Balance(context.Context, string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *stubClient) setFailure(tick uint32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, tick)
	} else {
		c.failures[tick] = err
	}
}

func buyTx(txID string, price, shares int64) qubic.Transaction {
	issuer := [32]byte{1}
	return qubic.Transaction{
		Source:      testTrader,
		Destination: qxContract,
		Amount:      price * shares,
		InputType:   decoder.OpAddBid,
		InputData:   decoder.EncodeOrderPayload(issuer, "QXA", price, shares),
		TxID:        txID,
	}
}

type fixture struct {
	client      *stubClient
	checkpoints *memory.CheckpointStore
	trades      *memory.TradeStore
	holders     *memory.HolderStore
	ledger      *memory.TradeLedger
	engine      *Engine
}

func newFixture(t *testing.T, current uint32, opts Options) *fixture {
	f := newFixtureNoEngine(t, current)
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	agg := aggregator.New(f.holders, aggregator.Options{})
	f.engine = NewEngine(f.client, decoder.New(qxContract), f.checkpoints, f.ledger, agg, opts)
	return f
}

func newFixtureNoEngine(t *testing.T, current uint32) *fixture {
	t.Helper()

	f := &fixture{
		client:      newStubClient(current),
		checkpoints: memory.NewCheckpointStore(),
		trades:      memory.NewTradeStore(),
		holders:     memory.NewHolderStore(),
	}
	f.ledger = memory.NewTradeLedger(f.trades, f.holders)
	return f
}

func TestEmptyTickCheckpointed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, Options{StartTick: 99})
	f.client.txs[100] = nil // present but empty

	n, err := f.engine.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}

	cp, err := f.checkpoints.Get(ctx, 100)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if cp.TxCount != 0 || cp.MatchedCount != 0 {
		t.Errorf("checkpoint counts = %d/%d, want 0/0", cp.TxCount, cp.MatchedCount)
	}
}

func TestUnproducedTickTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, Options{StartTick: 99})
	// tick 100 absent from the stub: client returns ErrNotFound

	if _, err := f.engine.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	cp, err := f.checkpoints.Get(ctx, 100)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if cp.TxCount != 0 {
		t.Errorf("tx count = %d, want 0", cp.TxCount)
	}
	if f.client.fetchCalls[100] != 1 {
		t.Errorf("fetch calls = %d, want 1 (no retry on not found)", f.client.fetchCalls[100])
	}
}

func TestTradeIndexedAndAggregated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 101, Options{StartTick: 100})
	f.client.txs[101] = []qubic.Transaction{buyTx("tx-buy-1", 5, 1000)}

	if _, err := f.engine.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	cp, err := f.checkpoints.Get(ctx, 101)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if cp.TxCount != 1 || cp.MatchedCount != 1 {
		t.Errorf("checkpoint counts = %d/%d, want 1/1", cp.TxCount, cp.MatchedCount)
	}

	trades, err := f.trades.GetByTrader(ctx, testTrader, 0)
	if err != nil {
		t.Fatalf("get trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trade count = %d, want 1", len(trades))
	}
	if trades[0].TotalValue.Cmp(big.NewInt(5000)) != 0 {
		t.Errorf("total value = %s, want 5000", trades[0].TotalValue)
	}

	h, err := f.holders.Get(ctx, testTrader, trades[0].AssetIssuer, "QXA")
	if err != nil {
		t.Fatalf("get holder: %v", err)
	}
	if h.Balance.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("holder balance = %s, want 1000", h.Balance)
	}
}

func TestAscendingBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 105, Options{StartTick: 100, BatchSize: 3})
	for tick := uint32(101); tick <= 105; tick++ {
		f.client.txs[tick] = nil
	}

	n, err := f.engine.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 3 {
		t.Fatalf("processed = %d, want batch size 3", n)
	}

	cps, err := f.checkpoints.Range(ctx, 101, 105)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(cps) != 3 {
		t.Fatalf("checkpoints = %d, want 3", len(cps))
	}
	for i, cp := range cps {
		if cp.Tick != uint32(101+i) {
			t.Errorf("checkpoint[%d].Tick = %d, want %d", i, cp.Tick, 101+i)
		}
	}

	status := f.engine.Status()
	if status.LastProcessedTick != 103 {
		t.Errorf("last processed = %d, want 103", status.LastProcessedTick)
	}
	if status.TicksBehind != 2 {
		t.Errorf("ticks behind = %d, want 2", status.TicksBehind)
	}
}

func TestErrorDoesNotAdvanceCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 103, Options{StartTick: 100, MaxTickRetries: 2})
	f.client.txs[101] = nil
	f.client.setFailure(102, errors.New("node exploded"))
	f.client.txs[103] = nil

	n, err := f.engine.RunOnce(ctx)
	if err == nil {
		t.Fatal("expected error from failing tick")
	}
	if n != 1 {
		t.Errorf("processed = %d, want 1 (only tick 101)", n)
	}
	if f.engine.LastProcessed() != 101 {
		t.Errorf("last processed = %d, want 101", f.engine.LastProcessed())
	}
	if _, err := f.checkpoints.Get(ctx, 102); !errors.Is(err, storage.ErrNotFound) {
		t.Error("tick 102 must not be checkpointed after failure")
	}
	if _, err := f.checkpoints.Get(ctx, 103); !errors.Is(err, storage.ErrNotFound) {
		t.Error("tick 103 must not be checkpointed past a failed tick")
	}
	if f.client.fetchCalls[102] != 2 {
		t.Errorf("fetch calls for failing tick = %d, want 2", f.client.fetchCalls[102])
	}

	// Next iteration resumes at the failed tick once the node recovers.
	f.client.setFailure(102, nil)
	f.client.txs[102] = nil
	if _, err := f.engine.RunOnce(ctx); err != nil {
		t.Fatalf("recovery run: %v", err)
	}
	if f.engine.LastProcessed() != 103 {
		t.Errorf("last processed after recovery = %d, want 103", f.engine.LastProcessed())
	}
}

func TestCrashReplayDoesNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 101, Options{StartTick: 100})
	f.client.txs[101] = []qubic.Transaction{buyTx("tx-buy-1", 5, 1000)}

	// Simulate a crash after the trade committed but before the checkpoint
	// was written.
	issuerKey := [32]byte{1}
	trade := &domain.Trade{
		TxID:        "tx-buy-1",
		Tick:        101,
		Timestamp:   1,
		AssetIssuer: mustIssuer(t, issuerKey),
		AssetName:   "QXA",
		Side:        domain.SideBuy,
		Trader:      testTrader,
		Price:       5,
		Quantity:    1000,
		TotalValue:  big.NewInt(5000),
	}
	agg := aggregator.New(f.holders, aggregator.Options{})
	delta, err := agg.DeltaForTrade(trade)
	if err != nil {
		t.Fatalf("build delta: %v", err)
	}
	if err := f.ledger.CommitTrade(ctx, trade, delta); err != nil {
		t.Fatalf("seed committed trade: %v", err)
	}

	if _, err := f.engine.RunOnce(ctx); err != nil {
		t.Fatalf("replay run: %v", err)
	}

	trades, err := f.trades.GetByTrader(ctx, testTrader, 0)
	if err != nil {
		t.Fatalf("get trades: %v", err)
	}
	if len(trades) != 1 {
		t.Errorf("trade count after replay = %d, want 1", len(trades))
	}

	h, err := f.holders.Get(ctx, testTrader, trade.AssetIssuer, "QXA")
	if err != nil {
		t.Fatalf("get holder: %v", err)
	}
	if h.Balance.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("balance after replay = %s, want 1000 (no double count)", h.Balance)
	}

	if _, err := f.checkpoints.Get(ctx, 101); err != nil {
		t.Errorf("checkpoint missing after replay: %v", err)
	}
}

// flakyLedger fails commits for selected tx ids, standing in for a process
// dying mid-tick.
type flakyLedger struct {
	inner   storage.TradeLedger
	mu      sync.Mutex
	failTxs map[string]error
}

func (l *flakyLedger) CommitTrade(ctx context.Context, tr *domain.Trade, d *domain.HolderDelta) error {
	l.mu.Lock()
	err, ok := l.failTxs[tr.TxID]
	l.mu.Unlock()
	if ok {
		return err
	}
	return l.inner.CommitTrade(ctx, tr, d)
}

func (l *flakyLedger) setFailure(txID string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.failTxs, txID)
	} else {
		l.failTxs[txID] = err
	}
}

func TestFailedCommitLeavesNoOrphanTradeRow(t *testing.T) {
	ctx := context.Background()
	f := newFixtureNoEngine(t, 101)
	ledger := &flakyLedger{inner: f.ledger, failTxs: make(map[string]error)}
	ledger.setFailure("tx-buy-2", errors.New("connection reset"))

	agg := aggregator.New(f.holders, aggregator.Options{})
	f.engine = NewEngine(f.client, decoder.New(qxContract), f.checkpoints, ledger, agg, Options{
		StartTick:      100,
		MaxTickRetries: 1,
		RetryDelay:     time.Millisecond,
	})
	f.client.txs[101] = []qubic.Transaction{
		buyTx("tx-buy-1", 5, 1000),
		buyTx("tx-buy-2", 6, 500),
	}

	if _, err := f.engine.RunOnce(ctx); err == nil {
		t.Fatal("expected error from failed commit")
	}

	// The interrupted tick must not checkpoint, and the trade whose commit
	// failed must not exist in any form: a trade row without its holder
	// delta would be silent data loss on replay.
	if _, err := f.checkpoints.Get(ctx, 101); !errors.Is(err, storage.ErrNotFound) {
		t.Error("tick 101 must not be checkpointed after a failed commit")
	}
	trades, err := f.trades.GetByTrader(ctx, testTrader, 0)
	if err != nil {
		t.Fatalf("get trades: %v", err)
	}
	if len(trades) != 1 || trades[0].TxID != "tx-buy-1" {
		t.Fatalf("trades after failure = %+v, want only tx-buy-1", trades)
	}

	issuerKey := [32]byte{1}
	h, err := f.holders.Get(ctx, testTrader, mustIssuer(t, issuerKey), "QXA")
	if err != nil {
		t.Fatalf("get holder: %v", err)
	}
	if h.Balance.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("balance after failure = %s, want 1000 (tx-buy-1 only)", h.Balance)
	}

	// Replay after recovery lands the missing trade exactly once.
	ledger.setFailure("tx-buy-2", nil)
	if _, err := f.engine.RunOnce(ctx); err != nil {
		t.Fatalf("recovery run: %v", err)
	}

	trades, err = f.trades.GetByTrader(ctx, testTrader, 0)
	if err != nil {
		t.Fatalf("get trades after recovery: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("trade count after recovery = %d, want 2", len(trades))
	}
	h, err = f.holders.Get(ctx, testTrader, mustIssuer(t, issuerKey), "QXA")
	if err != nil {
		t.Fatalf("get holder after recovery: %v", err)
	}
	if h.Balance.Cmp(big.NewInt(1500)) != 0 {
		t.Errorf("balance after recovery = %s, want 1500", h.Balance)
	}
	if _, err := f.checkpoints.Get(ctx, 101); err != nil {
		t.Errorf("checkpoint missing after recovery: %v", err)
	}
}

func TestReindexingCheckpointedRangeIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 102, Options{StartTick: 100})
	f.client.txs[101] = []qubic.Transaction{buyTx("tx-buy-1", 5, 1000)}
	f.client.txs[102] = []qubic.Transaction{buyTx("tx-buy-2", 6, 500)}

	if _, err := f.engine.RunOnce(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Fresh engine over the same range and stores: everything is already
	// checkpointed, nothing may change.
	agg := aggregator.New(f.holders, aggregator.Options{})
	second := NewEngine(f.client, decoder.New(qxContract), f.checkpoints, f.ledger, agg, Options{
		StartTick:  100,
		RetryDelay: time.Millisecond,
	})
	if _, err := second.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}

	trades, err := f.trades.GetByTrader(ctx, testTrader, 0)
	if err != nil {
		t.Fatalf("get trades: %v", err)
	}
	if len(trades) != 2 {
		t.Errorf("trade count = %d, want 2", len(trades))
	}

	issuerKey := [32]byte{1}
	h, err := f.holders.Get(ctx, testTrader, mustIssuer(t, issuerKey), "QXA")
	if err != nil {
		t.Fatalf("get holder: %v", err)
	}
	if h.Balance.Cmp(big.NewInt(1500)) != 0 {
		t.Errorf("balance = %s, want 1500 (unchanged by reindex)", h.Balance)
	}
}

func TestResumeFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 205, Options{StartTick: 100})
	if err := f.checkpoints.Put(ctx, &domain.TickCheckpoint{Tick: 203, ProcessedAt: 1}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	f.client.txs[204] = nil
	f.client.txs[205] = nil

	n, err := f.engine.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 2 {
		t.Fatalf("processed = %d, want 2 (resume at 204)", n)
	}
	if f.client.fetchCalls[203] != 0 {
		t.Error("checkpointed tick 203 must not be refetched")
	}
}

func TestSingleFlight(t *testing.T) {
	f := newFixture(t, 1000, Options{StartTick: 0, PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	// Wait for the background run to claim the engine.
	deadline := time.After(2 * time.Second)
	for {
		if _, err := f.engine.RunOnce(ctx); errors.Is(err, ErrAlreadyRunning) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("engine never reported already running")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}

func TestPublisherReceivesTrades(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var published []*domain.Trade
	pub := publisherFunc(func(tr *domain.Trade) {
		mu.Lock()
		published = append(published, tr)
		mu.Unlock()
	})

	f := newFixture(t, 101, Options{StartTick: 100, Publisher: pub})
	f.client.txs[101] = []qubic.Transaction{buyTx("tx-buy-1", 5, 1000)}

	if _, err := f.engine.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(published) != 1 || published[0].TxID != "tx-buy-1" {
		t.Errorf("published = %v, want one trade tx-buy-1", published)
	}
}

type publisherFunc func(*domain.Trade)

func (f publisherFunc) PublishTrade(t *domain.Trade) { f(t) }

// mustIssuer encodes the issuer identity the decoder would produce for a key.
func mustIssuer(t *testing.T, key [32]byte) string {
	t.Helper()
	return identity.Encode(key)
}
