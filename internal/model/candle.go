package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is an OHLCV summary of one time bucket.
// Prices and volume are decimals so aggregation never drifts.
type Candle struct {
	TS     time.Time       `json:"ts"` // bucket start time (UTC)
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Validate checks low <= open,close <= high and volume > 0.
func (c *Candle) Validate() error {
	if c.Low.GreaterThan(c.High) {
		return fmt.Errorf("candle %s: low %s above high %s", c.TS.Format(time.RFC3339), c.Low, c.High)
	}
	for _, p := range []decimal.Decimal{c.Open, c.Close} {
		if p.LessThan(c.Low) || p.GreaterThan(c.High) {
			return fmt.Errorf("candle %s: price %s outside [%s, %s]", c.TS.Format(time.RFC3339), p, c.Low, c.High)
		}
	}
	if !c.Volume.IsPositive() {
		return fmt.Errorf("candle %s: volume must be positive, got %s", c.TS.Format(time.RFC3339), c.Volume)
	}
	return nil
}

// Sample returns the candle's close as a price sample stamped at the bucket start.
func (c *Candle) Sample(symbol string) PriceSample {
	return PriceSample{Symbol: symbol, Value: c.Close, TS: c.TS}
}

// SamplesFromCandles converts candles to close-price samples.
func SamplesFromCandles(symbol string, candles []Candle) []PriceSample {
	out := make([]PriceSample, len(candles))
	for i := range candles {
		out[i] = candles[i].Sample(symbol)
	}
	return out
}
