// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the entrypoints need. Flags in the cmd mains
// override these values.
type Config struct {
	// Chain node
	NodeURL         string
	ContractAddress string

	// Storage
	PostgresDSN   string
	ClickhouseDSN string
	UseMemory     bool

	// Indexer
	StartTick    uint32
	BatchSize    int
	PollInterval time.Duration

	// Aggregation
	WhaleThresholdPercent float64

	// Alerts
	AlertCadence time.Duration

	// Webhooks
	WebhookTimeout time.Duration

	// HTTP
	APIAddr     string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string
}

// Load reads configuration from the environment, honoring a .env file in
// the working directory when present.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		NodeURL:               os.Getenv("QUBIC_NODE_URL"),
		ContractAddress:       os.Getenv("QX_CONTRACT_ADDRESS"),
		PostgresDSN:           os.Getenv("POSTGRES_DSN"),
		ClickhouseDSN:         os.Getenv("CLICKHOUSE_DSN"),
		UseMemory:             envBool("USE_MEMORY", false),
		BatchSize:             envInt("INDEXER_BATCH_SIZE", 50),
		WhaleThresholdPercent: envFloat("WHALE_THRESHOLD_PERCENT", 5.0),
		APIAddr:               envStr("API_ADDR", ":8080"),
		MetricsAddr:           envStr("METRICS_ADDR", ":9090"),
		LogLevel:              envStr("LOG_LEVEL", "info"),
		LogFormat:             envStr("LOG_FORMAT", "console"),
		LogFile:               os.Getenv("LOG_FILE"),
	}

	start := envInt("INDEXER_START_TICK", 0)
	if start < 0 {
		return nil, fmt.Errorf("INDEXER_START_TICK must be non-negative, got %d", start)
	}
	cfg.StartTick = uint32(start)

	var err error
	if cfg.PollInterval, err = envDuration("INDEXER_POLL_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.AlertCadence, err = envDuration("ALERT_CADENCE", time.Minute); err != nil {
		return nil, err
	}
	if cfg.WebhookTimeout, err = envDuration("WEBHOOK_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
