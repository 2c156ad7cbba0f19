// Package indengine is the indicator service orchestrator. It owns the
// lifecycle of the cache, the subscription registry, the price poller, the
// recompute workers, the WebSocket gateway and the HTTP API.
package indengine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"trading-indstream/internal/cache"
	"trading-indstream/internal/gateway"
	"trading-indstream/internal/logger"
	"trading-indstream/internal/metrics"
	"trading-indstream/internal/model"
	"trading-indstream/internal/poller"
	redisstore "trading-indstream/internal/store/redis"
	"trading-indstream/internal/subscription"
)

// Service is the top-level orchestrator for the indicator engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg Config
	log *slog.Logger

	registry *prometheus.Registry
	prom     *metrics.Metrics
	health   *metrics.HealthStatus

	feed     model.PriceFeed
	redis    *redisstore.CacheStore // nil when the L2 tier is disabled or down
	cache    *cache.Cache
	calc     *Calculator
	subs     *subscription.Registry
	hub      *gateway.Hub
	poller   *poller.Poller
	pool     *workerPool
	metricsS *metrics.Server
	httpSrv  *http.Server
}

// New builds the service around pf. A Redis tier that cannot be reached
// is logged and skipped; the cache then runs local only.
func New(cfg Config, pf model.PriceFeed, log *slog.Logger) (*Service, error) {
	if pf == nil {
		return nil, errors.New("indengine: price feed is required")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	svc := &Service{
		cfg:      cfg,
		log:      logger.Component(log, "indengine"),
		registry: prometheus.NewRegistry(),
		health:   metrics.NewHealthStatus(),
		feed:     pf,
	}
	svc.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc.prom = metrics.New(svc.registry)

	// ---- L2 cache ----
	cacheCfg := cache.Config{
		MaxEntries:      cfg.CacheMaxEntries,
		JanitorInterval: cfg.CacheJanitorInterval,
		Logger:          log,
	}
	if cfg.Redis.Addr != "" {
		store, err := redisstore.NewCacheStore(cfg.Redis, log)
		if err != nil {
			svc.log.Warn("redis unavailable, continuing with local cache only", "err", err)
		} else {
			svc.redis = store
			cacheCfg.Remote = store
			svc.wireBreaker(store.Breaker())
		}
	}

	svc.cache = cache.New(cacheCfg)
	svc.wireCache()

	svc.calc = NewCalculator(CalculatorConfig{
		Feed:       pf,
		Cache:      svc.cache,
		Native:     cfg.NativeTF,
		HistoryTTL: cfg.HistoryTTL,
		ResultTTL:  cfg.ResultTTL,
		Logger:     log,
	})

	svc.hub = gateway.NewHub(gateway.HubConfig{Logger: log, Resolve: svc.calc.Resolve})
	svc.hub.OnDropped = func(_, channel string) { svc.prom.ClientDrops.WithLabelValues(channel).Inc() }
	svc.subs = subscription.New(subscription.Config{
		Computer:    svc.calc,
		Transport:   svc.hub,
		Logger:      log,
		MaxParallel: cfg.MaxParallel,
	})
	svc.hub.Bind(svc.subs)
	svc.wireRegistry()

	var err error
	svc.poller, err = poller.New(poller.Config{
		Feed:       pf,
		Symbols:    svc.subs,
		Publisher:  svc.subs,
		Logger:     log,
		Interval:   cfg.PollInterval,
		MinRefresh: cfg.MinRefresh,
		QueueSize:  cfg.QueueSize,
	})
	if err != nil {
		svc.closeStores()
		return nil, err
	}
	svc.wirePoller()

	svc.pool = newWorkerPool(svc.poller.Events(), svc.subs, cfg.Workers)
	svc.pool.onDone = func(symbol string, elapsed time.Duration, err error) {
		svc.prom.RecomputeDur.Observe(elapsed.Seconds())
		svc.prom.QueueDepth.Set(float64(len(svc.poller.Events())))
		if err != nil && !errors.Is(err, context.Canceled) {
			svc.log.Warn("recompute failed", "symbol", symbol, "err", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", svc.hub)
	svc.registerAPI(mux)
	svc.httpSrv = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.MetricsAddr != "" {
		svc.metricsS = metrics.NewServer(cfg.MetricsAddr, svc.health, svc.registry, log)
	}
	return svc, nil
}

func (svc *Service) wireBreaker(cb *redisstore.CircuitBreaker) {
	cb.OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		svc.log.Warn("redis circuit breaker state change", "from", from.String(), "to", to.String())
	}
}

func (svc *Service) wireCache() {
	svc.cache.OnHit = func(string) { svc.prom.CacheHits.Inc() }
	svc.cache.OnMiss = func(string) { svc.prom.CacheMisses.Inc() }
	svc.cache.OnEvict = func(_ string, reason cache.EvictReason) {
		svc.prom.CacheEvictions.WithLabelValues(string(reason)).Inc()
	}
}

func (svc *Service) wireRegistry() {
	svc.subs.OnChange = func(s subscription.Stats) {
		svc.prom.ActiveConnections.Set(float64(s.Connections))
		svc.prom.SubscriptionEntries.Set(float64(s.Entries))
		svc.prom.PriceSubscriptions.Set(float64(s.PriceEntries))
	}
	svc.subs.OnComputed = func(string, model.IndicatorSpec) { svc.prom.IndicatorsTotal.Inc() }
	svc.subs.OnFailure = func(_ string, _ model.IndicatorSpec, err error) {
		svc.prom.IndicatorFailures.WithLabelValues(FailureKind(err)).Inc()
	}
	svc.subs.OnSendError = func(string, error) { svc.prom.SendErrors.Inc() }
}

func (svc *Service) wirePoller() {
	p := svc.poller
	p.OnPoll = func(r poller.Result) {
		svc.prom.PollsTotal.Inc()
		fetched := r.Updated + r.Failed
		svc.health.RecordPoll(time.Now(), fetched == 0 || r.Updated > 0)
	}
	p.OnPrice = func(string) { svc.prom.PricesTotal.Inc() }
	p.OnFeedError = func(_, kind string) { svc.prom.FeedErrors.WithLabelValues(kind).Inc() }
	p.OnThrottled = func(string) { svc.prom.SymbolsThrottled.Inc() }
	p.OnDropped = func(string) { svc.prom.EventsDropped.Inc() }
	p.OnQueued = func(depth int) { svc.prom.QueueDepth.Set(float64(depth)) }
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	svc.log.Info("starting indicator service",
		"http", svc.cfg.HTTPAddr, "metrics", svc.cfg.MetricsAddr,
		"native_tf", svc.cfg.NativeTF, "poll_interval", svc.cfg.PollInterval,
		"workers", svc.cfg.Workers, "redis", svc.redis != nil)

	if svc.metricsS != nil {
		svc.metricsS.Start()
	}
	if svc.redis != nil {
		svc.health.StartLivenessChecker(ctx, svc.redis, svc.cfg.RedisCheckInterval)
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		svc.pool.run(workerCtx)
	}()

	if err := svc.poller.Start(ctx); err != nil {
		stopWorkers()
		workers.Wait()
		return err
	}

	httpErr := make(chan error, 1)
	go func() {
		if err := svc.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-httpErr:
		svc.log.Error("http server failed", "err", runErr)
	}

	svc.shutdown(stopWorkers, &workers)
	return runErr
}

// shutdown stops intake first, then drains work, then releases stores.
func (svc *Service) shutdown(stopWorkers context.CancelFunc, workers *sync.WaitGroup) {
	svc.log.Info("shutdown signal received")

	svc.poller.Stop()
	stopWorkers()
	workers.Wait()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.httpSrv.Shutdown(shutCtx); err != nil {
		svc.log.Warn("http shutdown", "err", err)
	}
	svc.hub.Close()
	svc.subs.Close()
	if svc.metricsS != nil {
		svc.metricsS.Stop(shutCtx)
	}
	svc.closeStores()

	svc.log.Info("shutdown complete")
}

func (svc *Service) closeStores() {
	if svc.cache != nil {
		svc.cache.Close()
	}
	if svc.redis != nil {
		if err := svc.redis.Close(); err != nil {
			svc.log.Warn("redis close", "err", err)
		}
	}
}

// CalculateIndicator computes spec for symbol on demand, outside any
// subscription. Results go through the same cache as streamed values.
func (svc *Service) CalculateIndicator(ctx context.Context, symbol string, spec model.IndicatorSpec) (model.IndicatorResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return model.IndicatorResult{}, &model.ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	return svc.calc.Compute(ctx, symbol, spec, nil)
}

// Registry exposes the subscription registry.
func (svc *Service) Registry() *subscription.Registry { return svc.subs }

// Handler returns the HTTP handler serving /ws and the REST API.
func (svc *Service) Handler() http.Handler { return svc.httpSrv.Handler }
