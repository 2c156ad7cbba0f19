package indicator

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-indstream/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var t0 = time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)

// series builds one-minute samples for symbol TEST.
func series(values ...float64) []model.PriceSample {
	out := make([]model.PriceSample, len(values))
	for i, v := range values {
		out[i] = model.PriceSample{
			Symbol: "TEST",
			Value:  decimal.NewFromFloat(v),
			TS:     t0.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func constant(v float64, n int) []model.PriceSample {
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return series(values...)
}

func randomWalk(seed int64, n int, start, scale float64) []model.PriceSample {
	rng := rand.New(rand.NewSource(seed))
	values := make([]float64, n)
	p := start
	for i := range values {
		p += (rng.Float64() - 0.5) * scale
		if p <= 0 {
			p = scale
		}
		values[i] = p
	}
	return series(values...)
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func mustNew(t *testing.T, spec model.IndicatorSpec) Indicator {
	t.Helper()
	ind, err := New(spec)
	if err != nil {
		t.Fatalf("New(%s): %v", spec.Key(), err)
	}
	return ind
}

func mustCalc(t *testing.T, ind Indicator, samples []model.PriceSample) model.IndicatorResult {
	t.Helper()
	res, err := ind.Calculate(samples)
	if err != nil {
		t.Fatalf("%s: %v", ind.Spec().Key(), err)
	}
	if res.End.Before(res.Start) {
		t.Fatalf("%s: end %v before start %v", ind.Spec().Key(), res.End, res.Start)
	}
	return res
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_ConstantSeries(t *testing.T) {
	for _, v := range []float64{0.0001, 1, 42.5, 99999.99} {
		for p := 1; p <= 20; p++ {
			res := mustCalc(t, NewSMA(p), constant(v, p+3))
			assertClose(t, "SMA constant", res.Value, v, v*1e-9)
		}
	}
}

func TestSMA_Correctness_Period3(t *testing.T) {
	// Window: 100, 102, 104, 103, 105
	// SMA(3) uses the first three samples: (100+102+104)/3 = 102
	samples := series(100, 102, 104, 103, 105)
	res := mustCalc(t, NewSMA(3), samples)

	assertClose(t, "SMA(3)", res.Value, 102.0, 0.0001)
	if !res.Start.Equal(samples[0].TS) || !res.End.Equal(samples[2].TS) {
		t.Errorf("span = [%v, %v], want [%v, %v]", res.Start, res.End, samples[0].TS, samples[2].TS)
	}
	if res.Symbol != "TEST" {
		t.Errorf("symbol = %q", res.Symbol)
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 2/(3+1) = 0.5
	// Seed = (100+102+104)/3 = 102.0
	// 103 → 103*0.5 + 102.0*0.5 = 102.5
	// 105 → 105*0.5 + 102.5*0.5 = 103.75
	res := mustCalc(t, NewEMA(3), series(100, 102, 104, 103, 105))
	assertClose(t, "EMA(3)", res.Value, 103.75, 0.0001)
}

func TestEMA_Period1_ReturnsLatest(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		samples := randomWalk(seed, 30, 100, 4)
		res := mustCalc(t, NewEMA(1), samples)
		assertClose(t, "EMA(1)", res.Value, samples[len(samples)-1].Float(), 1e-9)
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period2(t *testing.T) {
	// Deltas: +1, -0.5 → avgGain 0.5, avgLoss 0.25, RS = 2
	// RSI = 100 - 100/3 = 66.6667
	res := mustCalc(t, NewRSI(2), series(10, 11, 10.5))
	assertClose(t, "RSI(2)", res.Value, 66.6667, 0.001)
}

func TestRSI_TrailingDeltasOnly(t *testing.T) {
	// A large early drop falls outside the trailing two deltas.
	res := mustCalc(t, NewRSI(2), series(50, 10, 11, 12))
	assertClose(t, "RSI(2)", res.Value, 100.0, 1e-9)
}

func TestRSI_Limits(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"increasing", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, 100},
		{"decreasing", []float64{16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}, 0},
		{"flat", []float64{7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustCalc(t, NewRSI(14), series(tt.values...))
			assertClose(t, "RSI(14)", res.Value, tt.want, 1e-9)
		})
	}
}

func TestRSI_Bounds(t *testing.T) {
	for seed := int64(1); seed <= 50; seed++ {
		res := mustCalc(t, NewRSI(14), randomWalk(seed, 40, 100, 3))
		if res.Value < 0 || res.Value > 100 {
			t.Fatalf("seed %d: RSI %.4f out of [0,100]", seed, res.Value)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Bollinger Bands
// ────────────────────────────────────────────────────────────

func TestBollinger_PopulationSigma(t *testing.T) {
	// Mean 5, population σ 2 → bands at 1 and 9.
	res := mustCalc(t, NewBollingerBands(8, 2), series(2, 4, 4, 4, 5, 5, 7, 9))
	assertClose(t, "middle", res.Aux["middle"], 5, 1e-9)
	assertClose(t, "upper", res.Aux["upper"], 9, 1e-9)
	assertClose(t, "lower", res.Aux["lower"], 1, 1e-9)
	assertClose(t, "value", res.Value, 5, 1e-9)
}

func TestBollinger_ConstantCollapsesBands(t *testing.T) {
	res := mustCalc(t, mustNew(t, model.IndicatorSpec{Type: model.Bollinger, Period: 20}), constant(250, 25))
	if res.Aux["upper"] != res.Aux["lower"] {
		t.Errorf("bands should collapse on constant input: %+v", res.Aux)
	}
}

// ────────────────────────────────────────────────────────────
// Stochastic / Williams %R
// ────────────────────────────────────────────────────────────

func TestStochasticAndWilliams_Known(t *testing.T) {
	// Trailing 4: high 12, low 8, close 11 → %K 75, %R -25.
	samples := series(100, 10, 12, 8, 11)
	k := mustCalc(t, NewStochastic(4), samples)
	r := mustCalc(t, NewWilliamsR(4), samples)
	assertClose(t, "%K", k.Value, 75, 1e-9)
	assertClose(t, "%R", r.Value, -25, 1e-9)
	if !k.Start.Equal(samples[1].TS) {
		t.Errorf("stochastic window should start at trailing sample, got %v", k.Start)
	}
}

func TestStochasticAndWilliams_ZeroRange(t *testing.T) {
	samples := constant(3, 10)
	assertClose(t, "%K", mustCalc(t, NewStochastic(5), samples).Value, 50, 0)
	assertClose(t, "%R", mustCalc(t, NewWilliamsR(5), samples).Value, -50, 0)
}

func TestStochasticAndWilliams_BoundsAtAnyScale(t *testing.T) {
	for _, scale := range []float64{1e-6, 1, 1e6} {
		for seed := int64(1); seed <= 20; seed++ {
			samples := randomWalk(seed, 30, 100*scale, 5*scale)
			k := mustCalc(t, NewStochastic(14), samples).Value
			r := mustCalc(t, NewWilliamsR(14), samples).Value
			if k < 0 || k > 100 {
				t.Fatalf("scale %g seed %d: %%K %.6f out of range", scale, seed, k)
			}
			if r < -100 || r > 0 {
				t.Fatalf("scale %g seed %d: %%R %.6f out of range", scale, seed, r)
			}
		}
	}
}

func TestStochastic_CandlesUseHighLow(t *testing.T) {
	d := decimal.NewFromInt
	candles := []model.Candle{
		{TS: t0, Open: d(10), High: d(20), Low: d(5), Close: d(10), Volume: d(1)},
		{TS: t0.Add(time.Minute), Open: d(10), High: d(12), Low: d(9), Close: d(11), Volume: d(1)},
	}
	res, err := NewStochastic(2).CalculateCandles("TEST", candles)
	if err != nil {
		t.Fatal(err)
	}
	// (11-5)/(20-5)*100 = 40
	assertClose(t, "%K candles", res.Value, 40, 1e-9)

	wr, err := NewWilliamsR(2).CalculateCandles("TEST", candles)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "%R candles", wr.Value, -60, 1e-9)
}

// ────────────────────────────────────────────────────────────
// MACD
// ────────────────────────────────────────────────────────────

func TestMACD_LineMatchesEMADifference(t *testing.T) {
	samples := randomWalk(7, 80, 100, 2)
	res := mustCalc(t, NewMACD(12, 26, 9), samples)

	fast := mustCalc(t, NewEMA(12), samples).Value
	slow := mustCalc(t, NewEMA(26), samples).Value
	assertClose(t, "macd line", res.Value, fast-slow, 1e-9)
	assertClose(t, "histogram", res.Aux["histogram"], res.Aux["macd"]-res.Aux["signal"], 1e-12)
}

func TestMACD_ConstantIsFlat(t *testing.T) {
	res := mustCalc(t, mustNew(t, model.IndicatorSpec{Type: model.MACD}), constant(100, 35))
	for _, k := range []string{"macd", "signal", "histogram"} {
		assertClose(t, k, res.Aux[k], 0, 1e-9)
	}
}

func TestMACD_RequiresSlowPlusSignal(t *testing.T) {
	_, err := NewMACD(3, 6, 4).Calculate(randomWalk(1, 9, 100, 1))
	var ide *InsufficientDataError
	if !errors.As(err, &ide) {
		t.Fatalf("err = %v, want InsufficientDataError", err)
	}
	if ide.Required != 10 || ide.Actual != 9 {
		t.Errorf("required/actual = %d/%d, want 10/9", ide.Required, ide.Actual)
	}
}

// ────────────────────────────────────────────────────────────
// Preconditions and factory
// ────────────────────────────────────────────────────────────

func TestPreconditions(t *testing.T) {
	unordered := series(1, 2, 3, 4)
	unordered[2].TS = t0.Add(-time.Hour)

	mixed := series(1, 2, 3, 4)
	mixed[3].Symbol = "OTHER"

	for _, typ := range model.IndicatorTypes {
		ind := mustNew(t, model.IndicatorSpec{Type: typ, Period: 3, Fast: 1, Slow: 2, Signal: 1})

		var ide *InsufficientDataError
		if _, err := ind.Calculate(unordered[:1]); !errors.As(err, &ide) {
			t.Errorf("%s short unordered window: err = %v, want InsufficientDataError first", typ, err)
		}
		if _, err := ind.Calculate(unordered); !errors.Is(err, ErrUnorderedInput) {
			t.Errorf("%s: err = %v, want ErrUnorderedInput", typ, err)
		}
		if _, err := ind.Calculate(mixed); !errors.Is(err, ErrMixedSymbols) {
			t.Errorf("%s: err = %v, want ErrMixedSymbols", typ, err)
		}
	}
}

func TestNew_RejectsInvalidSpecs(t *testing.T) {
	tests := []struct {
		name string
		spec model.IndicatorSpec
	}{
		{"zero period", model.IndicatorSpec{Type: model.SMA}},
		{"negative period", model.IndicatorSpec{Type: model.RSI, Period: -3}},
		{"unknown type", model.IndicatorSpec{Type: "VWAP", Period: 5}},
		{"macd fast >= slow", model.IndicatorSpec{Type: model.MACD, Fast: 26, Slow: 12, Signal: 9}},
		{"macd zero signal", model.IndicatorSpec{Type: model.MACD, Fast: 12, Slow: 26}},
		{"bad timeframe", model.IndicatorSpec{Type: model.EMA, Period: 5, Timeframe: 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.spec)
			var ve *model.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestNew_MACDDefaults(t *testing.T) {
	ind := mustNew(t, model.IndicatorSpec{Type: model.MACD})
	if got := ind.Spec().Key(); got != "MACD:12:26:9@" {
		t.Errorf("key = %q", got)
	}
	if ind.Required() != 35 {
		t.Errorf("required = %d, want 35", ind.Required())
	}
}

func TestIndicators_AreStateless(t *testing.T) {
	ind := NewEMA(5)
	a := mustCalc(t, ind, randomWalk(3, 20, 100, 2))
	mustCalc(t, ind, randomWalk(4, 20, 500, 20))
	b := mustCalc(t, ind, randomWalk(3, 20, 100, 2))
	if a.Value != b.Value {
		t.Errorf("same window gave %v then %v", a.Value, b.Value)
	}
}
