package tfbuilder

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"trading-indstream/internal/model"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

// makeCandle creates a test candle from float prices.
func makeCandle(ts time.Time, open, high, low, close_, vol float64) model.Candle {
	return model.Candle{
		TS:     ts,
		Open:   decimal.NewFromFloat(open),
		High:   decimal.NewFromFloat(high),
		Low:    decimal.NewFromFloat(low),
		Close:  decimal.NewFromFloat(close_),
		Volume: decimal.NewFromFloat(vol),
	}
}

func assertDecimal(t *testing.T, label string, got decimal.Decimal, want float64) {
	t.Helper()
	if !got.Equal(decimal.NewFromFloat(want)) {
		t.Errorf("%s: got %s, want %v", label, got, want)
	}
}

func TestAggregate_FiveMinuteExample(t *testing.T) {
	base := day.Add(10 * time.Hour)
	src := []model.Candle{
		makeCandle(base, 100, 103, 99, 102, 10),
		makeCandle(base.Add(1*time.Minute), 102, 103, 100, 101, 20),
		makeCandle(base.Add(2*time.Minute), 101, 106, 100, 105, 30),
		makeCandle(base.Add(3*time.Minute), 105, 106, 102, 103, 40),
		makeCandle(base.Add(4*time.Minute), 103, 108, 102, 107, 50),
	}

	out, err := AggregateToTimeframe(src, model.FiveMinutes)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d candles, want 1", len(out))
	}
	c := out[0]
	assertDecimal(t, "open", c.Open, 100)
	assertDecimal(t, "close", c.Close, 107)
	assertDecimal(t, "high", c.High, 108)
	assertDecimal(t, "low", c.Low, 99)
	assertDecimal(t, "volume", c.Volume, 150)
	if !c.TS.Equal(base) {
		t.Errorf("bucket = %v, want %v", c.TS, base)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("aggregated candle invalid: %v", err)
	}
}

func TestAggregate_BucketsAndOrdering(t *testing.T) {
	// 1m candles from 09:13 to 09:31 → 15m buckets 09:00, 09:15, 09:30.
	var src []model.Candle
	for m := 13; m <= 31; m++ {
		src = append(src, makeCandle(day.Add(9*time.Hour+time.Duration(m)*time.Minute), 10, 11, 9, 10, 1))
	}
	// Shuffle the tail to make sure output stays ordered.
	src[0], src[len(src)-1] = src[len(src)-1], src[0]

	out, err := AggregateToTimeframe(src, model.FifteenMinutes)
	if err != nil {
		t.Fatal(err)
	}
	var got []time.Time
	for _, c := range out {
		got = append(got, c.TS)
	}
	want := []time.Time{
		day.Add(9 * time.Hour),
		day.Add(9*time.Hour + 15*time.Minute),
		day.Add(9*time.Hour + 30*time.Minute),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("bucket starts mismatch (-want +got):\n%s", diff)
	}
	assertDecimal(t, "first bucket volume", out[0].Volume, 2)
	assertDecimal(t, "middle bucket volume", out[1].Volume, 15)
	assertDecimal(t, "last bucket volume", out[2].Volume, 2)
}

func TestBucketStart_DayAndHourBoundaries(t *testing.T) {
	tests := []struct {
		ts   time.Time
		tf   model.Timeframe
		want time.Time
	}{
		{day.Add(23*time.Hour + 59*time.Minute), model.FourHours, day.Add(20 * time.Hour)},
		{day.Add(23*time.Hour + 59*time.Minute), model.OneDay, day},
		{day.Add(61 * time.Minute), model.OneHour, day.Add(time.Hour)},
		{day.Add(29*time.Minute + 59*time.Second), model.ThirtyMinutes, day},
	}
	for _, tt := range tests {
		if got := BucketStart(tt.ts, tt.tf); !got.Equal(tt.want) {
			t.Errorf("BucketStart(%v, %s) = %v, want %v", tt.ts, tt.tf, got, tt.want)
		}
	}
}

func TestCanConvert(t *testing.T) {
	tests := []struct {
		from, to model.Timeframe
		want     bool
	}{
		{model.OneMinute, model.FiveMinutes, true},
		{model.FiveMinutes, model.FifteenMinutes, true},
		{model.FifteenMinutes, model.OneHour, true},
		{model.OneHour, model.FourHours, true},
		{model.FourHours, model.OneDay, true},
		{model.FifteenMinutes, model.FifteenMinutes, false},
		{model.OneHour, model.FiveMinutes, false},
		{model.ThirtyMinutes, model.OneHour, true},
		{model.Timeframe(7), model.OneHour, false},
	}
	for _, tt := range tests {
		if got := CanConvert(tt.from, tt.to); got != tt.want {
			t.Errorf("CanConvert(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestConvert_RejectsFinerTarget(t *testing.T) {
	_, err := Convert(nil, model.OneHour, model.FiveMinutes)
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

// ────────────────────────────────────────────────────────────
// Alignment
// ────────────────────────────────────────────────────────────

func TestAlignment_Empty(t *testing.T) {
	a := GetTimeframeAlignment(nil)
	if a.Score != 0 || a.Trend != Neutral {
		t.Errorf("empty alignment = %+v", a)
	}
}

func TestAlignment_IdenticalValues(t *testing.T) {
	a := GetTimeframeAlignment(map[model.Timeframe]float64{
		model.OneMinute: 50, model.FiveMinutes: 50, model.OneHour: 50,
	})
	if a.Score != 1 || a.Trend != Neutral || a.Strongest != 0 || a.Weakest != 0 {
		t.Errorf("alignment = %+v", a)
	}
}

func TestAlignment_BullishAndBearish(t *testing.T) {
	bull := GetTimeframeAlignment(map[model.Timeframe]float64{
		model.OneHour: 60, model.OneMinute: 50, model.FiveMinutes: 55,
	})
	if bull.Trend != Bullish || bull.Strongest != model.OneHour || bull.Weakest != model.OneMinute {
		t.Errorf("bullish alignment = %+v", bull)
	}
	if bull.Score <= 0 || bull.Score >= 1 {
		t.Errorf("score = %v, want within (0,1)", bull.Score)
	}
	if bull.Values[0].Timeframe != model.OneMinute {
		t.Errorf("values not ordered finest first: %+v", bull.Values)
	}

	bear := GetTimeframeAlignment(map[model.Timeframe]float64{
		model.OneMinute: 60, model.FiveMinutes: 55, model.OneHour: 50,
	})
	if bear.Trend != Bearish || bear.Strongest != model.OneHour || bear.Weakest != model.OneMinute {
		t.Errorf("bearish alignment = %+v", bear)
	}
}

func TestAlignment_SmallChangeIsNeutral(t *testing.T) {
	a := GetTimeframeAlignment(map[model.Timeframe]float64{
		model.OneMinute: 100, model.OneHour: 104,
	})
	if a.Trend != Neutral {
		t.Errorf("trend = %s, want Neutral", a.Trend)
	}
}

func TestAlignment_WideSpreadScoresZero(t *testing.T) {
	a := GetTimeframeAlignment(map[model.Timeframe]float64{
		model.OneMinute: 10, model.OneDay: 90,
	})
	if a.Score != 0 {
		t.Errorf("score = %v, want 0", a.Score)
	}
}
