package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-indstream/config"
	"trading-indstream/internal/feed"
	"trading-indstream/internal/indengine"
	"trading-indstream/internal/logger"
	"trading-indstream/internal/model"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.ServiceName, logger.ParseLevel(cfg.LogLevel))

	engCfg, err := indengine.FromEnv(cfg)
	if err != nil {
		log.Error("invalid engine config", "err", err)
		os.Exit(1)
	}

	pf, err := newFeed(cfg, engCfg.NativeTF)
	if err != nil {
		log.Error("feed init failed", "err", err)
		os.Exit(1)
	}
	log.Info("price feed ready", "mode", cfg.FeedMode, "native_tf", engCfg.NativeTF)

	svc, err := indengine.New(engCfg, pf, log)
	if err != nil {
		log.Error("init failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func newFeed(cfg *config.Config, native model.Timeframe) (model.PriceFeed, error) {
	if cfg.FeedMode == config.FeedHTTP {
		c, err := feed.NewHTTPClient(feed.HTTPConfig{
			BaseURL:       cfg.FeedBaseURL,
			APIKey:        cfg.FeedAPIKey,
			Timeout:       cfg.FeedTimeout,
			RatePerMinute: cfg.FeedRatePerMin,
			Native:        native,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return feed.NewSimulator(feed.SimConfig{
		Symbols: cfg.ParseSimSymbols(),
		Seed:    time.Now().UnixNano(),
		Native:  native,
	}), nil
}
