package indicator

import "trading-indstream/internal/model"

// EMA calculates the Exponential Moving Average, seeded with the SMA of
// the first Period samples.
type EMA struct {
	spec model.IndicatorSpec
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{spec: model.IndicatorSpec{Type: model.EMA, Period: period}}
}

func (e *EMA) Spec() model.IndicatorSpec { return e.spec }
func (e *EMA) Required() int             { return e.spec.Period }

// Lookback gives the recurrence a few periods to forget its seed.
func (e *EMA) Lookback() int { return 3 * e.spec.Period }

func (e *EMA) Calculate(samples []model.PriceSample) (model.IndicatorResult, error) {
	if err := checkWindow(e.spec.Key(), e.spec.Period, samples); err != nil {
		return model.IndicatorResult{}, err
	}
	series := emaSeries(prices(samples), e.spec.Period)
	return model.IndicatorResult{
		Symbol: samples[0].Symbol,
		Spec:   e.spec,
		Value:  series[len(series)-1],
		Start:  samples[0].TS,
		End:    samples[len(samples)-1].TS,
	}, nil
}

// emaSeries returns the EMA value after each sample from index period-1 on.
// len(values) must be >= period.
func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, 0, len(values)-period+1)
	current := mean(values[:period])
	out = append(out, current)

	// EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	k := 2.0 / float64(period+1)
	for _, price := range values[period:] {
		current = price*k + current*(1-k)
		out = append(out, current)
	}
	return out
}
