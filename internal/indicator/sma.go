package indicator

import "trading-indstream/internal/model"

// SMA calculates the Simple Moving Average over the first Period samples
// of the window.
type SMA struct {
	spec model.IndicatorSpec
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{spec: model.IndicatorSpec{Type: model.SMA, Period: period}}
}

func (s *SMA) Spec() model.IndicatorSpec { return s.spec }
func (s *SMA) Required() int             { return s.spec.Period }
func (s *SMA) Lookback() int             { return s.spec.Period }

func (s *SMA) Calculate(samples []model.PriceSample) (model.IndicatorResult, error) {
	p := s.spec.Period
	if err := checkWindow(s.spec.Key(), p, samples); err != nil {
		return model.IndicatorResult{}, err
	}
	window := samples[:p]
	return model.IndicatorResult{
		Symbol: samples[0].Symbol,
		Spec:   s.spec,
		Value:  mean(prices(window)),
		Start:  window[0].TS,
		End:    window[p-1].TS,
	}, nil
}
