package indengine

import (
	"time"

	"trading-indstream/config"
	"trading-indstream/internal/model"
	redisstore "trading-indstream/internal/store/redis"
)

// Config holds the service-level configuration of the indicator engine.
type Config struct {
	ServiceName string
	HTTPAddr    string // WebSocket gateway + REST API
	MetricsAddr string // /metrics and /healthz; empty disables the separate listener

	PollInterval time.Duration
	MinRefresh   time.Duration
	Workers      int // recompute worker goroutines
	QueueSize    int // SymbolUpdated queue capacity
	MaxParallel  int // concurrent spec computations per symbol; 0 = unbounded

	NativeTF model.Timeframe

	CacheMaxEntries      int
	CacheJanitorInterval time.Duration
	HistoryTTL           time.Duration
	ResultTTL            time.Duration

	// Redis L2 cache; Addr == "" disables it.
	Redis redisstore.CacheConfig

	// RedisCheckInterval is how often /healthz re-probes Redis.
	RedisCheckInterval time.Duration
}

// FromEnv maps the process configuration onto the engine's.
func FromEnv(c *config.Config) (Config, error) {
	native, err := model.ParseTimeframe(c.NativeTF)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		ServiceName:          c.ServiceName,
		HTTPAddr:             c.GatewayAddr,
		MetricsAddr:          c.MetricsAddr,
		PollInterval:         c.PollInterval,
		MinRefresh:           c.MinRefresh,
		Workers:              c.RecomputeWorkers,
		QueueSize:            c.RecomputeQueue,
		NativeTF:             native,
		CacheMaxEntries:      c.CacheMaxEntries,
		CacheJanitorInterval: c.CacheJanitorInterval,
		HistoryTTL:           c.HistoryTTL,
		ResultTTL:            c.ResultTTL,
		Redis: redisstore.CacheConfig{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		},
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = "indstream"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.NativeTF == 0 {
		c.NativeTF = model.OneMinute
	}
	if c.HistoryTTL <= 0 {
		c.HistoryTTL = 5 * time.Minute
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = 30 * time.Second
	}
	if c.RedisCheckInterval <= 0 {
		c.RedisCheckInterval = 15 * time.Second
	}
	return c
}
