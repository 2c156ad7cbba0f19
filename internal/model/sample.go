package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is a single observed price for a symbol.
type PriceSample struct {
	Symbol string          `json:"symbol"`
	Value  decimal.Decimal `json:"value"`
	TS     time.Time       `json:"ts"` // UTC
}

// NewPriceSample builds a sample and normalizes the timestamp to UTC.
func NewPriceSample(symbol string, value decimal.Decimal, ts time.Time) (PriceSample, error) {
	s := PriceSample{Symbol: symbol, Value: value, TS: ts.UTC()}
	return s, s.Validate()
}

// Validate rejects empty symbols and non-positive prices.
func (s *PriceSample) Validate() error {
	if s.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if !s.Value.IsPositive() {
		return &ValidationError{Field: "value", Reason: fmt.Sprintf("must be > 0, got %s", s.Value)}
	}
	return nil
}

// Float returns the price as float64 for indicator math.
func (s *PriceSample) Float() float64 {
	return s.Value.InexactFloat64()
}
