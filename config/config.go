package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Feed modes.
const (
	FeedHTTP = "http"
	FeedSim  = "sim"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	ServiceName string
	LogLevel    string

	// Listeners
	GatewayAddr string
	MetricsAddr string

	// Polling and recompute
	PollInterval     time.Duration
	MinRefresh       time.Duration
	RecomputeWorkers int
	RecomputeQueue   int
	NativeTF         string

	// Price feed
	FeedMode       string
	FeedBaseURL    string
	FeedAPIKey     string
	FeedRatePerMin int
	FeedTimeout    time.Duration
	SimSymbols     string // "AAPL:190,MSFT:410"

	// Cache
	CacheMaxEntries      int
	CacheJanitorInterval time.Duration
	HistoryTTL           time.Duration
	ResultTTL            time.Duration

	// Redis L2 tier; empty address disables it.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load reads configuration from environment variables with sensible
// defaults. When envFile exists it is loaded first; variables already set
// in the environment win.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "indstream"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		GatewayAddr: getEnv("GATEWAY_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		PollInterval:     getDuration("POLL_INTERVAL", 30*time.Second),
		MinRefresh:       getDuration("MIN_REFRESH_INTERVAL", 10*time.Second),
		RecomputeWorkers: getInt("RECOMPUTE_WORKERS", 4),
		RecomputeQueue:   getInt("RECOMPUTE_QUEUE", 256),
		NativeTF:         getEnv("NATIVE_TF", "1m"),

		FeedMode:       strings.ToLower(getEnv("FEED_MODE", FeedSim)),
		FeedBaseURL:    getEnv("FEED_BASE_URL", ""),
		FeedAPIKey:     getEnv("FEED_API_KEY", ""),
		FeedRatePerMin: getInt("FEED_RATE_PER_MIN", 300),
		FeedTimeout:    getDuration("FEED_TIMEOUT", 10*time.Second),
		SimSymbols:     getEnv("SIM_SYMBOLS", "AAPL:190,MSFT:410,NVDA:880"),

		CacheMaxEntries:      getInt("CACHE_MAX_ENTRIES", 10000),
		CacheJanitorInterval: getDuration("CACHE_JANITOR_INTERVAL", time.Minute),
		HistoryTTL:           getDuration("HISTORY_TTL", 5*time.Minute),
		ResultTTL:            getDuration("RESULT_TTL", 30*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
	}
	return cfg, cfg.Validate()
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.FeedMode {
	case FeedHTTP:
		if c.FeedBaseURL == "" {
			return errors.New("config: FEED_BASE_URL is required when FEED_MODE=http")
		}
	case FeedSim:
		if len(c.ParseSimSymbols()) == 0 {
			return errors.New("config: SIM_SYMBOLS has no valid SYMBOL:PRICE pairs")
		}
	default:
		return fmt.Errorf("config: unknown FEED_MODE %q", c.FeedMode)
	}
	if c.PollInterval <= 0 {
		return errors.New("config: POLL_INTERVAL must be positive")
	}
	return nil
}

// ParseSimSymbols parses SimSymbols into symbol → starting price.
func (c *Config) ParseSimSymbols() map[string]float64 {
	out := make(map[string]float64)
	for _, part := range strings.Split(c.SimSymbols, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, price, ok := strings.Cut(part, ":")
		p, err := strconv.ParseFloat(strings.TrimSpace(price), 64)
		if !ok || err != nil || p <= 0 || strings.TrimSpace(sym) == "" {
			slog.Warn("skipping invalid SIM_SYMBOLS entry", "component", "config", "entry", part)
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(sym))] = p
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer, using default", "component", "config", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

// getDuration accepts Go durations ("30s") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	slog.Warn("invalid duration, using default", "component", "config", "key", key, "value", v, "default", fallback)
	return fallback
}
