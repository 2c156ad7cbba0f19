package indicator

import (
	"math"

	"trading-indstream/internal/model"
)

// DefaultBollingerK is the band width in standard deviations.
const DefaultBollingerK = 2.0

// BollingerBands places bands K population standard deviations around the
// SMA of the first Period samples.
type BollingerBands struct {
	spec model.IndicatorSpec
	k    float64
}

// NewBollingerBands creates Bollinger Bands with the given period and width.
func NewBollingerBands(period int, k float64) *BollingerBands {
	return &BollingerBands{spec: model.IndicatorSpec{Type: model.Bollinger, Period: period}, k: k}
}

func (b *BollingerBands) Spec() model.IndicatorSpec { return b.spec }
func (b *BollingerBands) Required() int             { return b.spec.Period }
func (b *BollingerBands) Lookback() int             { return b.spec.Period }

// Calculate returns the middle band as the primary value; upper, middle,
// lower and bandwidth are in Aux.
func (b *BollingerBands) Calculate(samples []model.PriceSample) (model.IndicatorResult, error) {
	p := b.spec.Period
	if err := checkWindow(b.spec.Key(), p, samples); err != nil {
		return model.IndicatorResult{}, err
	}
	window := prices(samples[:p])
	middle := mean(window)

	variance := 0.0
	for _, v := range window {
		d := v - middle
		variance += d * d
	}
	sigma := math.Sqrt(variance / float64(p))

	upper := middle + b.k*sigma
	lower := middle - b.k*sigma
	aux := map[string]float64{"upper": upper, "middle": middle, "lower": lower}
	if middle != 0 {
		aux["bandwidth"] = (upper - lower) / middle
	}
	return model.IndicatorResult{
		Symbol: samples[0].Symbol,
		Spec:   b.spec,
		Value:  middle,
		Start:  samples[0].TS,
		End:    samples[p-1].TS,
		Aux:    aux,
	}, nil
}
