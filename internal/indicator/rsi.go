package indicator

import "trading-indstream/internal/model"

// RSI calculates the Relative Strength Index from the average gain and
// average loss over the trailing Period deltas.
type RSI struct {
	spec model.IndicatorSpec
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{spec: model.IndicatorSpec{Type: model.RSI, Period: period}}
}

func (r *RSI) Spec() model.IndicatorSpec { return r.spec }
func (r *RSI) Required() int             { return r.spec.Period }
func (r *RSI) Lookback() int             { return r.spec.Period + 1 }

func (r *RSI) Calculate(samples []model.PriceSample) (model.IndicatorResult, error) {
	p := r.spec.Period
	if err := checkWindow(r.spec.Key(), p, samples); err != nil {
		return model.IndicatorResult{}, err
	}

	n := len(samples)
	deltas := p
	if n-1 < deltas {
		deltas = n - 1
	}
	first := n - 1 - deltas

	var gains, losses float64
	for i := first + 1; i < n; i++ {
		delta := samples[i].Float() - samples[i-1].Float()
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	return model.IndicatorResult{
		Symbol: samples[0].Symbol,
		Spec:   r.spec,
		Value:  rsiValue(gains, losses, deltas),
		Start:  samples[first].TS,
		End:    samples[n-1].TS,
	}, nil
}

func rsiValue(gains, losses float64, deltas int) float64 {
	if deltas == 0 || (gains == 0 && losses == 0) {
		return 50.0
	}
	avgGain := gains / float64(deltas)
	avgLoss := losses / float64(deltas)
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
