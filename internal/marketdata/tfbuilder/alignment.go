package tfbuilder

import (
	"math"
	"sort"

	"trading-indstream/internal/model"
)

// Trend is the direction an indicator moves from the finest to the
// coarsest timeframe.
type Trend int

const (
	Bearish Trend = iota - 1
	Neutral
	Bullish
)

func (t Trend) String() string {
	switch t {
	case Bearish:
		return "Bearish"
	case Bullish:
		return "Bullish"
	}
	return "Neutral"
}

// MarshalText encodes the trend by name.
func (t Trend) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

const (
	// Normalized standard deviation at or above this fraction of the mean
	// scores zero.
	maxRelativeStd = 0.20

	// Minimum percent change first → last to call a trend.
	trendThresholdPct = 5.0
)

// TimeframeValue is one timeframe's indicator value.
type TimeframeValue struct {
	Timeframe model.Timeframe `json:"timeframe"`
	Value     float64         `json:"value"`
}

// TimeframeAlignment summarizes agreement of one indicator across timeframes.
// Strongest and Weakest are zero when the trend is Neutral.
type TimeframeAlignment struct {
	Score     float64          `json:"score"`
	Trend     Trend            `json:"trend"`
	Values    []TimeframeValue `json:"values"` // finest → coarsest
	Strongest model.Timeframe  `json:"strongest,omitempty"`
	Weakest   model.Timeframe  `json:"weakest,omitempty"`
}

// GetTimeframeAlignment scores how closely values agree across timeframes.
// Score is 1 - min(σ/|mean|, 0.2)/0.2, so identical values score 1 and a
// spread of 20% of the mean or more scores 0.
func GetTimeframeAlignment(values map[model.Timeframe]float64) TimeframeAlignment {
	if len(values) == 0 {
		return TimeframeAlignment{Trend: Neutral}
	}

	ordered := make([]TimeframeValue, 0, len(values))
	for tf, v := range values {
		ordered = append(ordered, TimeframeValue{Timeframe: tf, Value: v})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Timeframe < ordered[j].Timeframe })

	a := TimeframeAlignment{Values: ordered, Trend: trendOf(ordered)}
	a.Score = alignmentScore(ordered)

	if a.Trend == Neutral {
		return a
	}
	hi, lo := ordered[0], ordered[0]
	for _, tv := range ordered[1:] {
		if tv.Value > hi.Value {
			hi = tv
		}
		if tv.Value < lo.Value {
			lo = tv
		}
	}
	if a.Trend == Bullish {
		a.Strongest, a.Weakest = hi.Timeframe, lo.Timeframe
	} else {
		a.Strongest, a.Weakest = lo.Timeframe, hi.Timeframe
	}
	return a
}

func alignmentScore(values []TimeframeValue) float64 {
	n := float64(len(values))
	sum := 0.0
	for _, tv := range values {
		sum += tv.Value
	}
	mean := sum / n

	variance := 0.0
	for _, tv := range values {
		d := tv.Value - mean
		variance += d * d
	}
	std := math.Sqrt(variance / n)

	var rel float64
	switch {
	case std == 0:
		rel = 0
	case mean == 0:
		rel = maxRelativeStd
	default:
		rel = math.Min(std/math.Abs(mean), maxRelativeStd)
	}
	return math.Max(0, 1-rel/maxRelativeStd)
}

func trendOf(values []TimeframeValue) Trend {
	first, last := values[0].Value, values[len(values)-1].Value
	if len(values) < 2 || first == 0 {
		return Neutral
	}
	change := (last - first) / math.Abs(first) * 100
	switch {
	case change >= trendThresholdPct:
		return Bullish
	case change <= -trendThresholdPct:
		return Bearish
	}
	return Neutral
}
