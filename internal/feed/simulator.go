package feed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-indstream/internal/model"
)

// SimConfig configures the simulated feed.
type SimConfig struct {
	// Symbols maps each known symbol to its starting price.
	Symbols map[string]float64

	Seed   int64
	Native model.Timeframe

	// History is how far back the generated series starts. Defaults to 7 days.
	History time.Duration

	// Volatility is the per-candle step as a fraction of price. Defaults to 0.002.
	Volatility float64
}

// Simulator is a PriceFeed backed by per-symbol random walks. Each symbol's
// series is generated lazily from its own seeded source, so the same seed
// always yields the same candles for the same origin.
type Simulator struct {
	cfg    SimConfig
	origin time.Time
	now    func() time.Time

	mu     sync.Mutex
	series map[string]*simSeries
}

type simSeries struct {
	rng     *rand.Rand
	candles []model.Candle
	last    float64
}

// Ensure Simulator implements the PriceFeed interface.
var _ model.PriceFeed = (*Simulator)(nil)

// NewSimulator creates a simulated feed whose history starts cfg.History
// before now.
func NewSimulator(cfg SimConfig) *Simulator {
	if !cfg.Native.Valid() {
		cfg.Native = model.OneMinute
	}
	if cfg.History <= 0 {
		cfg.History = 7 * 24 * time.Hour
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.002
	}
	s := &Simulator{
		cfg:    cfg,
		now:    time.Now,
		series: make(map[string]*simSeries, len(cfg.Symbols)),
	}
	s.origin = s.now().UTC().Add(-cfg.History).Truncate(cfg.Native.Duration())
	return s
}

// Symbols returns the configured symbols.
func (s *Simulator) Symbols() []string {
	out := make([]string, 0, len(s.cfg.Symbols))
	for sym := range s.cfg.Symbols {
		out = append(out, sym)
	}
	return out
}

// GetCurrentPrice returns the close of the newest generated candle.
func (s *Simulator) GetCurrentPrice(ctx context.Context, symbol string) (model.PriceSample, error) {
	if err := ctx.Err(); err != nil {
		return model.PriceSample{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	ser, err := s.seriesLocked(symbol, now)
	if err != nil {
		return model.PriceSample{}, err
	}
	if len(ser.candles) == 0 {
		return model.PriceSample{}, fmt.Errorf("quote %s: no data before origin: %w", symbol, ErrUnknownSymbol)
	}
	last := ser.candles[len(ser.candles)-1]
	return model.NewPriceSample(symbol, last.Close, now)
}

// GetHistoricalCandles returns generated candles with start <= ts <= end.
func (s *Simulator) GetHistoricalCandles(ctx context.Context, symbol string, start, end time.Time) ([]model.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	now := s.now().UTC()
	if end.IsZero() || end.After(now) {
		end = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ser, err := s.seriesLocked(symbol, now)
	if err != nil {
		return nil, err
	}
	var out []model.Candle
	for _, c := range ser.candles {
		if c.TS.Before(start) {
			continue
		}
		if c.TS.After(end) {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

// GetHistoricalPrices returns generated closes in [start, end].
func (s *Simulator) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceSample, error) {
	candles, err := s.GetHistoricalCandles(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	return model.SamplesFromCandles(symbol, candles), nil
}

// seriesLocked extends symbol's walk up to the bucket containing now.
func (s *Simulator) seriesLocked(symbol string, now time.Time) (*simSeries, error) {
	startPrice, ok := s.cfg.Symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	ser, ok := s.series[symbol]
	if !ok {
		h := fnv.New64a()
		_, _ = h.Write([]byte(symbol))
		ser = &simSeries{
			rng:  rand.New(rand.NewSource(s.cfg.Seed ^ int64(h.Sum64()))),
			last: startPrice,
		}
		s.series[symbol] = ser
	}

	step := s.cfg.Native.Duration()
	next := s.origin
	if n := len(ser.candles); n > 0 {
		next = ser.candles[n-1].TS.Add(step)
	}
	for ; !next.After(now); next = next.Add(step) {
		ser.candles = append(ser.candles, ser.nextCandle(next, s.cfg.Volatility))
	}
	return ser, nil
}

// nextCandle advances the walk by one candle.
func (ser *simSeries) nextCandle(ts time.Time, vol float64) model.Candle {
	open := ser.last
	last := open * (1 + (ser.rng.Float64()-0.5)*2*vol)
	if last <= 0 {
		last = open
	}
	high := max(open, last) * (1 + ser.rng.Float64()*vol/2)
	low := min(open, last) * (1 - ser.rng.Float64()*vol/2)
	volume := 100 + ser.rng.Float64()*900
	ser.last = last

	return model.Candle{
		TS:     ts,
		Open:   decimal.NewFromFloat(open).Round(4),
		High:   decimal.NewFromFloat(high).Round(4),
		Low:    decimal.NewFromFloat(low).Round(4),
		Close:  decimal.NewFromFloat(last).Round(4),
		Volume: decimal.NewFromFloat(volume).Round(0),
	}
}
