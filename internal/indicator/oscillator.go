package indicator

import (
	"time"

	"github.com/shopspring/decimal"

	"trading-indstream/internal/model"
)

// Stochastic calculates the %K line of the Stochastic Oscillator over the
// trailing Period samples. Result is in [0, 100].
type Stochastic struct {
	spec model.IndicatorSpec
}

// NewStochastic creates a Stochastic Oscillator with the given period.
func NewStochastic(period int) *Stochastic {
	return &Stochastic{spec: model.IndicatorSpec{Type: model.Stochastic, Period: period}}
}

func (s *Stochastic) Spec() model.IndicatorSpec { return s.spec }
func (s *Stochastic) Required() int             { return s.spec.Period }
func (s *Stochastic) Lookback() int             { return s.spec.Period }

func (s *Stochastic) Calculate(samples []model.PriceSample) (model.IndicatorResult, error) {
	if err := checkWindow(s.spec.Key(), s.spec.Period, samples); err != nil {
		return model.IndicatorResult{}, err
	}
	r := trailingRangeOfSamples(samples, s.spec.Period)
	return s.result(samples[0].Symbol, r), nil
}

// CalculateCandles uses candle highs and lows for the range and the last close.
func (s *Stochastic) CalculateCandles(symbol string, candles []model.Candle) (model.IndicatorResult, error) {
	if err := checkCandles(s.spec.Key(), s.spec.Period, candles); err != nil {
		return model.IndicatorResult{}, err
	}
	return s.result(symbol, trailingRangeOfCandles(candles, s.spec.Period)), nil
}

func (s *Stochastic) result(symbol string, r priceRange) model.IndicatorResult {
	k := 50.0
	if span := r.high - r.low; span > 0 {
		k = clamp((r.close-r.low)/span*100, 0, 100)
	}
	return model.IndicatorResult{Symbol: symbol, Spec: s.spec, Value: k, Start: r.start, End: r.end}
}

// WilliamsR calculates Williams %R over the trailing Period samples.
// Result is in [-100, 0].
type WilliamsR struct {
	spec model.IndicatorSpec
}

// NewWilliamsR creates a Williams %R indicator with the given period.
func NewWilliamsR(period int) *WilliamsR {
	return &WilliamsR{spec: model.IndicatorSpec{Type: model.WilliamsR, Period: period}}
}

func (w *WilliamsR) Spec() model.IndicatorSpec { return w.spec }
func (w *WilliamsR) Required() int             { return w.spec.Period }
func (w *WilliamsR) Lookback() int             { return w.spec.Period }

func (w *WilliamsR) Calculate(samples []model.PriceSample) (model.IndicatorResult, error) {
	if err := checkWindow(w.spec.Key(), w.spec.Period, samples); err != nil {
		return model.IndicatorResult{}, err
	}
	return w.result(samples[0].Symbol, trailingRangeOfSamples(samples, w.spec.Period)), nil
}

// CalculateCandles uses candle highs and lows for the range and the last close.
func (w *WilliamsR) CalculateCandles(symbol string, candles []model.Candle) (model.IndicatorResult, error) {
	if err := checkCandles(w.spec.Key(), w.spec.Period, candles); err != nil {
		return model.IndicatorResult{}, err
	}
	return w.result(symbol, trailingRangeOfCandles(candles, w.spec.Period)), nil
}

func (w *WilliamsR) result(symbol string, r priceRange) model.IndicatorResult {
	pr := -50.0
	if span := r.high - r.low; span > 0 {
		pr = clamp((r.high-r.close)/span*-100, -100, 0)
	}
	return model.IndicatorResult{Symbol: symbol, Spec: w.spec, Value: pr, Start: r.start, End: r.end}
}

// priceRange is the high/low envelope of a trailing window plus its last close.
type priceRange struct {
	high, low, close float64
	start, end       time.Time
}

func trailingRangeOfSamples(samples []model.PriceSample, period int) priceRange {
	window := samples[len(samples)-period:]
	r := priceRange{
		high:  window[0].Float(),
		low:   window[0].Float(),
		close: window[len(window)-1].Float(),
		start: window[0].TS,
		end:   window[len(window)-1].TS,
	}
	for i := 1; i < len(window); i++ {
		v := window[i].Float()
		if v > r.high {
			r.high = v
		}
		if v < r.low {
			r.low = v
		}
	}
	return r
}

func trailingRangeOfCandles(candles []model.Candle, period int) priceRange {
	window := candles[len(candles)-period:]
	last := window[len(window)-1]
	high, low := window[0].High, window[0].Low
	for i := 1; i < len(window); i++ {
		high = decimal.Max(high, window[i].High)
		low = decimal.Min(low, window[i].Low)
	}
	return priceRange{
		high:  high.InexactFloat64(),
		low:   low.InexactFloat64(),
		close: last.Close.InexactFloat64(),
		start: window[0].TS,
		end:   last.TS,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
