// Package indicator provides technical indicator calculations over price windows.
//
// All indicators implement the Indicator interface, receiving an ordered
// window of price samples and producing a model.IndicatorResult. Indicators
// hold no state between calls; callers supply the full window each time.
package indicator

import (
	"errors"
	"fmt"

	"trading-indstream/internal/model"
)

var (
	// ErrUnorderedInput is returned when sample timestamps decrease.
	ErrUnorderedInput = errors.New("indicator: samples not ordered by timestamp")

	// ErrMixedSymbols is returned when a window spans more than one symbol.
	ErrMixedSymbols = errors.New("indicator: samples reference more than one symbol")
)

// InsufficientDataError reports a window shorter than the indicator needs.
type InsufficientDataError struct {
	Indicator string
	Required  int
	Actual    int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("indicator %s: insufficient data: need %d samples, have %d", e.Indicator, e.Required, e.Actual)
}

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Spec returns the validated spec the indicator was built from.
	Spec() model.IndicatorSpec

	// Required is the minimum number of samples Calculate accepts.
	Required() int

	// Lookback is the number of samples the indicator wants for a settled value.
	Lookback() int

	// Calculate computes the indicator over an ordered, single-symbol window.
	Calculate(samples []model.PriceSample) (model.IndicatorResult, error)
}

// CandleCalculator is implemented by range-based indicators that can use
// real candle highs and lows instead of close prices.
type CandleCalculator interface {
	CalculateCandles(symbol string, candles []model.Candle) (model.IndicatorResult, error)
}

// New validates spec and returns the matching indicator.
func New(spec model.IndicatorSpec) (Indicator, error) {
	spec = spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Type {
	case model.SMA:
		return &SMA{spec: spec}, nil
	case model.EMA:
		return &EMA{spec: spec}, nil
	case model.RSI:
		return &RSI{spec: spec}, nil
	case model.Bollinger:
		return &BollingerBands{spec: spec, k: DefaultBollingerK}, nil
	case model.Stochastic:
		return &Stochastic{spec: spec}, nil
	case model.MACD:
		return &MACD{spec: spec}, nil
	case model.WilliamsR:
		return &WilliamsR{spec: spec}, nil
	}
	return nil, &model.ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported indicator type %q", spec.Type)}
}

// checkWindow enforces the shared preconditions in order: length, ordering, symbol.
func checkWindow(name string, required int, samples []model.PriceSample) error {
	if len(samples) < required {
		return &InsufficientDataError{Indicator: name, Required: required, Actual: len(samples)}
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].TS.Before(samples[i-1].TS) {
			return ErrUnorderedInput
		}
	}
	sym := samples[0].Symbol
	for i := 1; i < len(samples); i++ {
		if samples[i].Symbol != sym {
			return ErrMixedSymbols
		}
	}
	return nil
}

func checkCandles(name string, required int, candles []model.Candle) error {
	if len(candles) < required {
		return &InsufficientDataError{Indicator: name, Required: required, Actual: len(candles)}
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].TS.Before(candles[i-1].TS) {
			return ErrUnorderedInput
		}
	}
	return nil
}

func prices(samples []model.PriceSample) []float64 {
	out := make([]float64, len(samples))
	for i := range samples {
		out[i] = samples[i].Float()
	}
	return out
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
