package indicator

import "trading-indstream/internal/model"

// MACD calculates Moving Average Convergence/Divergence. Both EMA series are
// carried across the whole window so the signal line sees the full history
// of the MACD line.
type MACD struct {
	spec model.IndicatorSpec
}

// NewMACD creates a MACD indicator. fast must be below slow.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{spec: model.IndicatorSpec{Type: model.MACD, Period: slow, Fast: fast, Slow: slow, Signal: signal}}
}

func (m *MACD) Spec() model.IndicatorSpec { return m.spec }
func (m *MACD) Required() int             { return m.spec.Slow + m.spec.Signal }
func (m *MACD) Lookback() int             { return 3*m.spec.Slow + m.spec.Signal }

// Calculate returns the MACD line as the primary value; macd, signal and
// histogram are in Aux.
func (m *MACD) Calculate(samples []model.PriceSample) (model.IndicatorResult, error) {
	if err := checkWindow(m.spec.Key(), m.Required(), samples); err != nil {
		return model.IndicatorResult{}, err
	}
	values := prices(samples)
	fast := emaSeries(values, m.spec.Fast)
	slow := emaSeries(values, m.spec.Slow)

	// fast starts (slow-fast) samples earlier than slow
	offset := m.spec.Slow - m.spec.Fast
	line := make([]float64, len(slow))
	for i := range slow {
		line[i] = fast[i+offset] - slow[i]
	}
	signal := emaSeries(line, m.spec.Signal)

	macd := line[len(line)-1]
	sig := signal[len(signal)-1]
	return model.IndicatorResult{
		Symbol: samples[0].Symbol,
		Spec:   m.spec,
		Value:  macd,
		Start:  samples[0].TS,
		End:    samples[len(samples)-1].TS,
		Aux: map[string]float64{
			"macd":      macd,
			"signal":    sig,
			"histogram": macd - sig,
		},
	}, nil
}
