package indengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"trading-indstream/internal/cache"
	"trading-indstream/internal/feed"
	"trading-indstream/internal/indicator"
	"trading-indstream/internal/logger"
	"trading-indstream/internal/marketdata/tfbuilder"
	"trading-indstream/internal/model"
	"trading-indstream/internal/subscription"
)

// CalculatorConfig configures a Calculator.
type CalculatorConfig struct {
	Feed       model.PriceFeed
	Cache      *cache.Cache
	Native     model.Timeframe // timeframe of the feed's candles
	HistoryTTL time.Duration
	ResultTTL  time.Duration
	Logger     *slog.Logger
}

// Calculator joins history fetch, timeframe aggregation and the indicator
// library behind the cache. It implements subscription.Computer.
type Calculator struct {
	feed       model.PriceFeed
	cache      *cache.Cache
	native     model.Timeframe
	historyTTL time.Duration
	resultTTL  time.Duration
	log        *slog.Logger
	now        func() time.Time
}

var _ subscription.Computer = (*Calculator)(nil)

// NewCalculator creates a Calculator.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	if cfg.Native == 0 {
		cfg.Native = model.OneMinute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Calculator{
		feed:       cfg.Feed,
		cache:      cfg.Cache,
		native:     cfg.Native,
		historyTTL: cfg.HistoryTTL,
		resultTTL:  cfg.ResultTTL,
		log:        logger.Component(cfg.Logger, "calculator"),
		now:        time.Now,
	}
}

// Native returns the feed timeframe unset spec timeframes resolve to.
func (c *Calculator) Native() model.Timeframe { return c.native }

// Resolve fills defaults, maps an unset timeframe to the native one and
// rejects timeframes that cannot be built from native candles.
func (c *Calculator) Resolve(spec model.IndicatorSpec) (model.IndicatorSpec, error) {
	spec = spec.Normalize()
	if spec.Timeframe == 0 {
		spec.Timeframe = c.native
	}
	if err := spec.Validate(); err != nil {
		return spec, err
	}
	if spec.Timeframe != c.native && !tfbuilder.CanConvert(c.native, spec.Timeframe) {
		return spec, &model.ValidationError{
			Field:  "timeframe",
			Reason: fmt.Sprintf("%s cannot be built from %s candles", spec.Timeframe, c.native),
		}
	}
	return spec, nil
}

// Compute returns the current value of spec for symbol. latest, when
// non-nil, is folded into the newest native candle before aggregation.
func (c *Calculator) Compute(ctx context.Context, symbol string, spec model.IndicatorSpec, latest *model.PriceSample) (model.IndicatorResult, error) {
	spec, err := c.Resolve(spec)
	if err != nil {
		return model.IndicatorResult{}, err
	}
	ind, err := indicator.New(spec)
	if err != nil {
		return model.IndicatorResult{}, err
	}

	candles, err := c.window(ctx, symbol, spec.Timeframe, ind.Lookback(), latest)
	if err != nil {
		return model.IndicatorResult{}, err
	}

	return cache.GetOrSet(ctx, c.cache, resultKey(symbol, spec, candles),
		func(context.Context) (model.IndicatorResult, error) {
			return c.calculate(ind, symbol, spec.Timeframe, candles)
		},
		cache.Options{Expiration: c.resultTTL, Priority: cache.Low, Tags: []string{symbolTag(symbol)}})
}

func (c *Calculator) calculate(ind indicator.Indicator, symbol string, tf model.Timeframe, candles []model.Candle) (model.IndicatorResult, error) {
	if cc, ok := ind.(indicator.CandleCalculator); ok && tf != c.native {
		return cc.CalculateCandles(symbol, candles)
	}
	return ind.Calculate(model.SamplesFromCandles(symbol, candles))
}

// window returns up to need candles of tf ending at the current bucket.
// Native history is memoized per (symbol, count, native bucket).
func (c *Calculator) window(ctx context.Context, symbol string, tf model.Timeframe, need int, latest *model.PriceSample) ([]model.Candle, error) {
	ratio := tf.Minutes() / c.native.Minutes()
	// one extra target bucket so a partial leading bucket can be trimmed
	count := (need + 1) * ratio

	now := c.now().UTC()
	end := tfbuilder.BucketStart(now, c.native)
	start := end.Add(-time.Duration(count-1) * c.native.Duration())
	key := fmt.Sprintf("hist:%s:%s:%d:%d", symbol, c.native, count, end.Unix())

	native, err := cache.GetOrSet(ctx, c.cache, key,
		func(ctx context.Context) ([]model.Candle, error) {
			candles, err := c.feed.GetHistoricalCandles(ctx, symbol, start, now)
			if err != nil {
				return nil, fmt.Errorf("history %s: %w", symbol, err)
			}
			return candles, nil
		},
		cache.Options{
			Expiration: c.historyTTL,
			Priority:   cache.Normal,
			Tags:       []string{symbolTag(symbol)},
			Size:       int64(count),
		})
	if err != nil {
		return nil, err
	}

	native = mergeLatest(native, latest, symbol, c.native)
	out, err := tfbuilder.Convert(native, c.native, tf)
	if err != nil {
		return nil, err
	}
	if len(out) > need {
		out = out[len(out)-need:]
	}
	return out, nil
}

// sampleVolume is the volume of a candle opened by a polled sample. Samples
// carry no traded volume, so the forming candle counts one tick to keep
// volume > 0.
var sampleVolume = decimal.NewFromInt(1)

// mergeLatest returns a copy of candles with latest folded in: it updates
// the newest candle when latest falls in its bucket and appends a flat
// candle when latest opens a new bucket. Older samples are ignored.
func mergeLatest(candles []model.Candle, latest *model.PriceSample, symbol string, native model.Timeframe) []model.Candle {
	if latest == nil || latest.Symbol != symbol || !latest.Value.IsPositive() {
		return candles
	}
	bucket := tfbuilder.BucketStart(latest.TS, native)
	out := make([]model.Candle, len(candles), len(candles)+1)
	copy(out, candles)

	if n := len(out); n > 0 {
		last := &out[n-1]
		switch {
		case bucket.Before(last.TS):
			return out
		case bucket.Equal(last.TS):
			last.Close = latest.Value
			last.High = decimal.Max(last.High, latest.Value)
			last.Low = decimal.Min(last.Low, latest.Value)
			return out
		}
	}
	return append(out, model.Candle{
		TS:     bucket,
		Open:   latest.Value,
		High:   latest.Value,
		Low:    latest.Value,
		Close:  latest.Value,
		Volume: sampleVolume,
	})
}

// Alignment computes spec on each timeframe and scores how well they agree.
// Timeframes that fail to compute are left out of the score.
func (c *Calculator) Alignment(ctx context.Context, symbol string, spec model.IndicatorSpec, tfs []model.Timeframe) (tfbuilder.TimeframeAlignment, error) {
	values := make(map[model.Timeframe]float64, len(tfs))
	for _, tf := range tfs {
		s := spec
		s.Timeframe = tf
		res, err := c.Compute(ctx, symbol, s, nil)
		if err != nil {
			var ve *model.ValidationError
			if errors.As(err, &ve) {
				return tfbuilder.TimeframeAlignment{}, err
			}
			c.log.Debug("alignment timeframe skipped", "symbol", symbol, "tf", tf, "err", err)
			continue
		}
		values[tf] = res.Value
	}
	return tfbuilder.GetTimeframeAlignment(values), nil
}

// InvalidateSymbol drops every cached history window and result of symbol.
func (c *Calculator) InvalidateSymbol(ctx context.Context, symbol string) int {
	return c.cache.RemoveByTag(ctx, symbolTag(symbol))
}

func symbolTag(symbol string) string { return "symbol:" + symbol }

func resultKey(symbol string, spec model.IndicatorSpec, candles []model.Candle) string {
	if len(candles) == 0 {
		return fmt.Sprintf("ind:%s:%s:empty", symbol, spec.Key())
	}
	last := candles[len(candles)-1]
	return fmt.Sprintf("ind:%s:%s:%d:%d:%s", symbol, spec.Key(), len(candles), last.TS.Unix(), last.Close)
}

// FailureKind labels a compute error for logs and metrics.
func FailureKind(err error) string {
	var insufficient *indicator.InsufficientDataError
	var invalid *model.ValidationError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &insufficient):
		return "insufficient_data"
	case errors.Is(err, indicator.ErrUnorderedInput):
		return "unordered_input"
	case errors.Is(err, indicator.ErrMixedSymbols):
		return "mixed_symbols"
	case errors.As(err, &invalid):
		return "validation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return feed.Kind(err)
}
