// Package config loads environment-driven settings, with an optional YAML
// tuning file for cooldowns and thresholds.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds settings for the mirror core.
type Config struct {
	Port     string
	DBPath   string
	LogLevel string

	// Cooldowns between scheduled refreshes. Loops are independent and not
	// synchronized with each other.
	MarketRefreshInterval   time.Duration
	OrderRefreshInterval    time.Duration
	PositionRefreshInterval time.Duration
	WalletRefreshInterval   time.Duration
	TickerReconcileInterval time.Duration
	StrategySweepInterval   time.Duration

	// Backpressure knobs.
	WalletEquityThreshold float64
	TickerThrottleWindow  time.Duration

	// Bound on concurrent per-account work during fan-outs.
	RefreshConcurrency int

	// Paper venue simulation.
	PaperSymbols      []string
	PaperStartPrice   float64
	PaperStep         float64
	PaperTickInterval time.Duration
	PaperEquity       float64
}

// duration accepts Go duration strings ("200ms", "1m30s") in YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// tuning mirrors the optional YAML file. Zero values keep the defaults.
type tuning struct {
	MarketRefreshInterval   duration `yaml:"marketRefreshInterval"`
	OrderRefreshInterval    duration `yaml:"orderRefreshInterval"`
	PositionRefreshInterval duration `yaml:"positionRefreshInterval"`
	WalletRefreshInterval   duration `yaml:"walletRefreshInterval"`
	TickerReconcileInterval duration `yaml:"tickerReconcileInterval"`
	StrategySweepInterval   duration `yaml:"strategySweepInterval"`
	WalletEquityThreshold   float64  `yaml:"walletEquityThreshold"`
	TickerThrottleWindow    duration `yaml:"tickerThrottleWindow"`
	RefreshConcurrency      int      `yaml:"refreshConcurrency"`
}

// Load reads environment variables (optionally via .env) into Config, then
// applies the YAML tuning file named by TUNING_FILE when present.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		DBPath:                  getEnv("DB_PATH", "./data/mirror.db"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		MarketRefreshInterval:   getEnvDuration("MARKET_REFRESH_INTERVAL", time.Hour),
		OrderRefreshInterval:    getEnvDuration("ORDER_REFRESH_INTERVAL", 15*time.Second),
		PositionRefreshInterval: getEnvDuration("POSITION_REFRESH_INTERVAL", 15*time.Second),
		WalletRefreshInterval:   getEnvDuration("WALLET_REFRESH_INTERVAL", 30*time.Second),
		TickerReconcileInterval: getEnvDuration("TICKER_RECONCILE_INTERVAL", 20*time.Second),
		StrategySweepInterval:   getEnvDuration("STRATEGY_SWEEP_INTERVAL", 10*time.Second),
		WalletEquityThreshold:   getEnvFloat("WALLET_EQUITY_THRESHOLD", 0.10),
		TickerThrottleWindow:    getEnvDuration("TICKER_THROTTLE_WINDOW", 500*time.Millisecond),
		RefreshConcurrency:      getEnvInt("REFRESH_CONCURRENCY", 8),
		PaperSymbols:            splitAndTrim(getEnv("PAPER_SYMBOLS", "BTCUSDT,ETHUSDT")),
		PaperStartPrice:         getEnvFloat("PAPER_START_PRICE", 100.0),
		PaperStep:               getEnvFloat("PAPER_STEP", 0.5),
		PaperTickInterval:       getEnvDuration("PAPER_TICK_INTERVAL", 250*time.Millisecond),
		PaperEquity:             getEnvFloat("PAPER_EQUITY", 10000.0),
	}

	if path := os.Getenv("TUNING_FILE"); path != "" {
		if err := cfg.applyTuningFile(path); err != nil {
			return nil, fmt.Errorf("apply tuning file %s: %w", path, err)
		}
	}

	return cfg, nil
}

func (c *Config) applyTuningFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var t tuning
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return err
	}

	if t.MarketRefreshInterval > 0 {
		c.MarketRefreshInterval = time.Duration(t.MarketRefreshInterval)
	}
	if t.OrderRefreshInterval > 0 {
		c.OrderRefreshInterval = time.Duration(t.OrderRefreshInterval)
	}
	if t.PositionRefreshInterval > 0 {
		c.PositionRefreshInterval = time.Duration(t.PositionRefreshInterval)
	}
	if t.WalletRefreshInterval > 0 {
		c.WalletRefreshInterval = time.Duration(t.WalletRefreshInterval)
	}
	if t.TickerReconcileInterval > 0 {
		c.TickerReconcileInterval = time.Duration(t.TickerReconcileInterval)
	}
	if t.StrategySweepInterval > 0 {
		c.StrategySweepInterval = time.Duration(t.StrategySweepInterval)
	}
	if t.WalletEquityThreshold > 0 {
		c.WalletEquityThreshold = t.WalletEquityThreshold
	}
	if t.TickerThrottleWindow > 0 {
		c.TickerThrottleWindow = time.Duration(t.TickerThrottleWindow)
	}
	if t.RefreshConcurrency > 0 {
		c.RefreshConcurrency = t.RefreshConcurrency
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
