// Package main runs the full indexing service: tick crawler, holder
// aggregation, alert cadence, webhook dispatch, and the query API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"qx-indexer/internal/aggregator"
	"qx-indexer/internal/alert"
	"qx-indexer/internal/api"
	"qx-indexer/internal/config"
	"qx-indexer/internal/decoder"
	"qx-indexer/internal/indexer"
	"qx-indexer/internal/logging"
	"qx-indexer/internal/observability"
	"qx-indexer/internal/qubic"
	"qx-indexer/internal/storage"
	chstore "qx-indexer/internal/storage/clickhouse"
	"qx-indexer/internal/storage/memory"
	"qx-indexer/internal/storage/migrations"
	pgstore "qx-indexer/internal/storage/postgres"
	"qx-indexer/internal/webhook"
)

// stores bundles every storage dependency of the service.
type stores struct {
	checkpoints storage.CheckpointStore
	trades      storage.TradeStore
	holders     storage.HolderStore
	ledger      storage.TradeLedger
	alerts      storage.AlertStore
	webhooks    storage.WebhookStore
	analytics   storage.AnalyticsStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	nodeURL := flag.String("node-url", cfg.NodeURL, "Qubic node API base URL")
	contract := flag.String("contract", cfg.ContractAddress, "QX contract identity (defaults to the well-known address)")
	postgresDSN := flag.String("postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string (optional analytics sink)")
	useMemory := flag.Bool("use-memory", cfg.UseMemory, "Use in-memory storage instead of PostgreSQL")
	startTick := flag.Uint("start-tick", uint(cfg.StartTick), "Tick to start crawling after when no checkpoint exists")
	batchSize := flag.Int("batch-size", cfg.BatchSize, "Maximum ticks per crawl iteration")
	pollInterval := flag.Duration("poll-interval", cfg.PollInterval, "Sleep between iterations when caught up")
	alertCadence := flag.Duration("alert-cadence", cfg.AlertCadence, "Alert evaluation interval")
	apiAddr := flag.String("api-addr", cfg.APIAddr, "Query API listen address (empty to disable)")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (empty to disable)")
	flag.Parse()

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *nodeURL == "" {
		logger.Fatal("--node-url is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}
	if *contract == "" {
		*contract = decoder.DefaultContractAddress()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, logger)
	if err != nil {
		logger.Fatal("creating stores failed", zap.Error(err))
	}
	defer cleanup()

	client := qubic.NewHTTPClient(*nodeURL, qubic.WithLogger(logger.Named("qubic").Sugar()))
	agg := aggregator.New(st.holders, aggregator.Options{
		WhaleThresholdPercent: cfg.WhaleThresholdPercent,
		Logger:                logger.Named("aggregator"),
	})

	feed := api.NewHub(logger.Named("feed"))
	engine := indexer.NewEngine(client, decoder.New(*contract), st.checkpoints, st.ledger, agg, indexer.Options{
		StartTick:    uint32(*startTick),
		BatchSize:    *batchSize,
		PollInterval: *pollInterval,
		Analytics:    st.analytics,
		Publisher:    feed,
		Logger:       logger.Named("indexer"),
	})

	dispatcher := webhook.NewDispatcher(st.webhooks, webhook.Options{
		Timeout: cfg.WebhookTimeout,
		Logger:  logger.Named("webhook"),
	})
	alertEngine := alert.NewEngine(st.alerts, st.trades, st.holders, dispatcher, alert.Options{
		Cadence: *alertCadence,
		Logger:  logger.Named("alert"),
	})
	if err := alertEngine.Start(); err != nil {
		logger.Fatal("starting alert engine failed", zap.Error(err))
	}
	defer alertEngine.Stop()

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, logger)
	}
	if *apiAddr != "" {
		server := api.NewServer(st.trades, st.holders, st.alerts, st.webhooks, engine, alertEngine, api.Options{
			Analytics: st.analytics,
			Feed:      feed,
			Logger:    logger.Named("api"),
		})
		go serveAPI(*apiAddr, server, logger)
	}

	// Graceful shutdown: first signal cancels, second forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()

		select {
		case <-sigCh:
			logger.Warn("second signal received, forcing exit")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	logger.Info("indexer starting",
		zap.String("node_url", *nodeURL),
		zap.String("contract", *contract),
		zap.Bool("use_memory", *useMemory))

	err = engine.Run(ctx)
	done <- err

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("indexer failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// createStores builds either the in-memory or the database-backed store
// set. ClickHouse is optional; without it the analytics sink stays nil.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool, logger *zap.Logger) (*stores, func(), error) {
	if useMemory {
		trades := memory.NewTradeStore()
		holders := memory.NewHolderStore()
		st := &stores{
			checkpoints: memory.NewCheckpointStore(),
			trades:      trades,
			holders:     holders,
			ledger:      memory.NewTradeLedger(trades, holders),
			alerts:      memory.NewAlertStore(),
			webhooks:    memory.NewWebhookStore(),
		}
		return st, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}

	st := &stores{
		checkpoints: pgstore.NewCheckpointStore(pool),
		trades:      pgstore.NewTradeStore(pool),
		holders:     pgstore.NewHolderStore(pool),
		ledger:      pgstore.NewTradeLedger(pool),
		alerts:      pgstore.NewAlertStore(pool),
		webhooks:    pgstore.NewWebhookStore(pool),
	}
	cleanup := func() { pool.Close() }

	if clickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			conn.Close()
			pool.Close()
			return nil, nil, fmt.Errorf("migrate clickhouse: %w", err)
		}
		st.analytics = chstore.NewAnalyticsStore(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
		logger.Info("analytics sink enabled")
	}

	return st, cleanup, nil
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	logger.Info("metrics server listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", zap.Error(err))
	}
}

func serveAPI(addr string, handler http.Handler, logger *zap.Logger) {
	logger.Info("api server listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("api server failed", zap.Error(err))
	}
}
