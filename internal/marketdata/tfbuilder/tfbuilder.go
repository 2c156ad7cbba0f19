// Package tfbuilder resamples candles into coarser timeframes and scores
// how well an indicator agrees across timeframes.
//
// Buckets are aligned to UTC day boundaries: a candle at ts falls into the
// bucket starting at dayStart + floor(minutesSinceMidnight/interval)*interval.
package tfbuilder

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"trading-indstream/internal/model"
)

// CanConvert reports whether candles of source can be aggregated into target.
// Only strictly coarser targets whose minute count is a multiple of the
// source's are allowed.
func CanConvert(source, target model.Timeframe) bool {
	if !source.Valid() || !target.Valid() {
		return false
	}
	return target > source && target.Minutes()%source.Minutes() == 0
}

// BucketStart returns the start of the target bucket containing ts.
func BucketStart(ts time.Time, target model.Timeframe) time.Time {
	ts = ts.UTC()
	y, m, d := ts.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	minutes := ts.Hour()*60 + ts.Minute()
	interval := target.Minutes()
	return dayStart.Add(time.Duration(minutes/interval*interval) * time.Minute)
}

// AggregateToTimeframe folds source candles into target-timeframe candles:
// open of the first, close of the last, max high, min low, summed volume.
// The result is ordered by bucket start. Source candles are sorted by
// timestamp first, so out-of-order input still folds correctly.
func AggregateToTimeframe(source []model.Candle, target model.Timeframe) ([]model.Candle, error) {
	if !target.Valid() {
		return nil, &model.ValidationError{Field: "timeframe", Reason: fmt.Sprintf("unsupported target timeframe %d minutes", int(target))}
	}
	if len(source) == 0 {
		return nil, nil
	}

	sorted := make([]model.Candle, len(source))
	copy(sorted, source)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS.Before(sorted[j].TS) })

	out := make([]model.Candle, 0, len(sorted)/max(1, target.Minutes())+1)
	var cur *model.Candle
	for i := range sorted {
		c := sorted[i]
		bucket := BucketStart(c.TS, target)
		if cur != nil && cur.TS.Equal(bucket) {
			cur.High = decimal.Max(cur.High, c.High)
			cur.Low = decimal.Min(cur.Low, c.Low)
			cur.Close = c.Close
			cur.Volume = cur.Volume.Add(c.Volume)
			continue
		}
		out = append(out, model.Candle{
			TS:     bucket,
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
		cur = &out[len(out)-1]
	}
	return out, nil
}

// Convert checks CanConvert and aggregates.
func Convert(source []model.Candle, from, to model.Timeframe) ([]model.Candle, error) {
	if from == to {
		return source, nil
	}
	if !CanConvert(from, to) {
		return nil, &model.ValidationError{Field: "timeframe", Reason: fmt.Sprintf("cannot convert %s candles to %s", from, to)}
	}
	return AggregateToTimeframe(source, to)
}
