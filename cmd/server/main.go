// Package main serves the query and alert-management API against an
// existing database, without running the tick crawler.
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

	"qx-indexer/internal/alert"
	"qx-indexer/internal/api"
	"qx-indexer/internal/config"
	"qx-indexer/internal/logging"
	"qx-indexer/internal/observability"
	"qx-indexer/internal/storage"
	chstore "qx-indexer/internal/storage/clickhouse"
	"qx-indexer/internal/storage/memory"
	"qx-indexer/internal/storage/migrations"
	pgstore "qx-indexer/internal/storage/postgres"
	"qx-indexer/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	postgresDSN := flag.String("postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string (optional analytics backend)")
	useMemory := flag.Bool("use-memory", cfg.UseMemory, "Use in-memory storage instead of PostgreSQL")
	apiAddr := flag.String("api-addr", cfg.APIAddr, "API listen address")
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

	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		trades      storage.TradeStore
		holders     storage.HolderStore
		alerts      storage.AlertStore
		webhooks    storage.WebhookStore
		analytics   storage.AnalyticsStore
		closeStores = func() {}
	)

	if *useMemory {
		trades = memory.NewTradeStore()
		holders = memory.NewHolderStore()
		alerts = memory.NewAlertStore()
		webhooks = memory.NewWebhookStore()
	} else {
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatal("connecting to postgres failed", zap.Error(err))
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			logger.Fatal("postgres migrations failed", zap.Error(err))
		}
		trades = pgstore.NewTradeStore(pool)
		holders = pgstore.NewHolderStore(pool)
		alerts = pgstore.NewAlertStore(pool)
		webhooks = pgstore.NewWebhookStore(pool)
		closeStores = pool.Close

		if *clickhouseDSN != "" {
			conn, err := chstore.NewConn(ctx, *clickhouseDSN)
			if err != nil {
				pool.Close()
				logger.Fatal("connecting to clickhouse failed", zap.Error(err))
			}
			analytics = chstore.NewAnalyticsStore(conn)
			closeStores = func() {
				conn.Close()
				pool.Close()
			}
		}
	}
	defer closeStores()

	// The dry-run tester reuses the evaluation engine without starting
	// its cadence loop. The crawler process owns the scheduled cycles.
	dispatcher := webhook.NewDispatcher(webhooks, webhook.Options{
		Timeout: cfg.WebhookTimeout,
		Logger:  logger.Named("webhook"),
	})
	tester := alert.NewEngine(alerts, trades, holders, dispatcher, alert.Options{
		Logger: logger.Named("alert"),
	})

	server := api.NewServer(trades, holders, alerts, webhooks, nil, tester, api.Options{
		Analytics: analytics,
		Logger:    logger.Named("api"),
	})

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			logger.Info("metrics server listening", zap.String("addr", *metricsAddr))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         *apiAddr,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("shutting down", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
		cancel()
	}()

	logger.Info("api server listening", zap.String("addr", *apiAddr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("api server failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
