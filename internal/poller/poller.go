// Package poller periodically fetches the current price of every subscribed
// symbol and hands the results to raw price subscribers and the recompute
// queue.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"trading-indstream/internal/feed"
	"trading-indstream/internal/logger"
	"trading-indstream/internal/model"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultQueueSize = 256
)

// SymbolSource lists the symbols that currently have subscribers.
type SymbolSource interface {
	Symbols() []string
}

// PricePublisher pushes a fresh price to raw price subscribers.
type PricePublisher interface {
	PublishPrice(sample model.PriceSample) int
}

// Config configures a Poller.
type Config struct {
	Feed      model.PriceFeed
	Symbols   SymbolSource
	Publisher PricePublisher
	Logger    *slog.Logger

	Interval   time.Duration // time between poll iterations
	MinRefresh time.Duration // minimum time between successful updates of one symbol
	QueueSize  int           // capacity of the SymbolUpdated queue
}

// Result summarizes one poll iteration.
type Result struct {
	Symbols   int
	Updated   int
	Throttled int
	Failed    int
	Dropped   int
}

// Poller runs a single scheduled job that polls the feed. Events are
// delivered on a bounded channel; when it is full the event is dropped.
type Poller struct {
	cfg    Config
	log    *slog.Logger
	events chan model.SymbolUpdated
	now    func() time.Time

	mu         sync.Mutex
	lastUpdate map[string]time.Time
	scheduler  *gocron.Scheduler
	inflight   sync.WaitGroup

	// Optional hooks, set before Start.
	OnPoll      func(Result)
	OnPrice     func(symbol string)
	OnFeedError func(symbol, kind string)
	OnThrottled func(symbol string)
	OnDropped   func(symbol string)
	OnQueued    func(depth int)
}

// New creates a Poller. Zero Interval and QueueSize take their defaults.
func New(cfg Config) (*Poller, error) {
	if cfg.Feed == nil {
		return nil, errors.New("poller: feed is required")
	}
	if cfg.Symbols == nil {
		return nil, errors.New("poller: symbol source is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{
		cfg:        cfg,
		log:        logger.Component(cfg.Logger, "poller"),
		events:     make(chan model.SymbolUpdated, cfg.QueueSize),
		now:        time.Now,
		lastUpdate: make(map[string]time.Time),
	}, nil
}

// Events returns the queue of successfully polled symbols.
func (p *Poller) Events() <-chan model.SymbolUpdated { return p.events }

// Start schedules the poll job and returns immediately. The first iteration
// runs right away. Cancelling ctx does not interrupt an iteration that is
// already fetching; use Stop to end the schedule.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scheduler != nil {
		return errors.New("poller: already started")
	}

	jobCtx := context.WithoutCancel(ctx)
	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(p.cfg.Interval).SingletonMode().Do(func() {
		p.inflight.Add(1)
		defer p.inflight.Done()
		p.PollOnce(jobCtx)
	})
	if err != nil {
		return err
	}
	s.StartAsync()
	p.scheduler = s

	p.log.Info("poller started", "interval", p.cfg.Interval, "min_refresh", p.cfg.MinRefresh)
	return nil
}

// Stop cancels the schedule and waits for an in-flight iteration to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	s := p.scheduler
	p.scheduler = nil
	p.mu.Unlock()
	if s == nil {
		return
	}
	s.Stop()
	p.inflight.Wait()
	p.log.Info("poller stopped")
}

// PollOnce runs one iteration synchronously: every subscribed symbol whose
// MinRefresh has elapsed is fetched, published and queued for recompute.
// Feed failures are logged and counted; the iteration continues.
func (p *Poller) PollOnce(ctx context.Context) Result {
	symbols := p.cfg.Symbols.Symbols()
	res := Result{Symbols: len(symbols)}
	p.forgetExcept(symbols)

	for _, sym := range symbols {
		if p.throttled(sym) {
			res.Throttled++
			if p.OnThrottled != nil {
				p.OnThrottled(sym)
			}
			continue
		}

		sample, err := p.cfg.Feed.GetCurrentPrice(ctx, sym)
		if err != nil {
			res.Failed++
			kind := feed.Kind(err)
			p.log.Warn("price fetch failed", "symbol", sym, "kind", kind, "err", err)
			if p.OnFeedError != nil {
				p.OnFeedError(sym, kind)
			}
			continue
		}
		sample.Symbol = sym

		p.mu.Lock()
		p.lastUpdate[sym] = p.now()
		p.mu.Unlock()
		res.Updated++
		if p.OnPrice != nil {
			p.OnPrice(sym)
		}

		if p.cfg.Publisher != nil {
			p.cfg.Publisher.PublishPrice(sample)
		}
		if !p.enqueue(model.SymbolUpdated{Symbol: sym, Latest: sample}) {
			res.Dropped++
		}
	}

	p.log.Debug("poll complete", "symbols", res.Symbols, "updated", res.Updated,
		"throttled", res.Throttled, "failed", res.Failed, "dropped", res.Dropped)
	if p.OnPoll != nil {
		p.OnPoll(res)
	}
	return res
}

func (p *Poller) throttled(symbol string) bool {
	if p.cfg.MinRefresh <= 0 {
		return false
	}
	p.mu.Lock()
	last, ok := p.lastUpdate[symbol]
	p.mu.Unlock()
	return ok && p.now().Sub(last) < p.cfg.MinRefresh
}

// enqueue never blocks; a full queue drops the event.
func (p *Poller) enqueue(ev model.SymbolUpdated) bool {
	select {
	case p.events <- ev:
		if p.OnQueued != nil {
			p.OnQueued(len(p.events))
		}
		return true
	default:
		p.log.Warn("recompute queue full, dropping event", "symbol", ev.Symbol,
			"depth", len(p.events), "capacity", cap(p.events))
		if p.OnDropped != nil {
			p.OnDropped(ev.Symbol)
		}
		return false
	}
}

// forgetExcept drops refresh times of symbols nobody subscribes to anymore.
func (p *Poller) forgetExcept(symbols []string) {
	keep := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		keep[s] = struct{}{}
	}
	p.mu.Lock()
	for s := range p.lastUpdate {
		if _, ok := keep[s]; !ok {
			delete(p.lastUpdate, s)
		}
	}
	p.mu.Unlock()
}
