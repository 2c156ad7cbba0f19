package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the indicator core from the concrete price
// source and the connection transport.

// PriceFeed is the external price source. Implementations signal
// unknown-symbol, rate-limit and transport failures with distinct errors.
type PriceFeed interface {
	// GetCurrentPrice returns the latest price for symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (PriceSample, error)

	// GetHistoricalPrices returns samples in [start, end], ordered by time.
	GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time) ([]PriceSample, error)

	// GetHistoricalCandles returns native-timeframe candles in [start, end], ordered by time.
	GetHistoricalCandles(ctx context.Context, symbol string, start, end time.Time) ([]Candle, error)
}

// Channels carried over the transport.
const (
	ChannelPrice     = "price"
	ChannelIndicator = "indicator"
)

// Transport pushes payloads to connected clients.
type Transport interface {
	// Send delivers payload to a single connection.
	Send(connID, channel string, payload any) error

	// Broadcast delivers payload to every connection.
	Broadcast(channel string, payload any)
}

// PriceUpdate is the payload on ChannelPrice.
type PriceUpdate struct {
	Symbol string    `json:"symbol"`
	Value  string    `json:"value"`
	TS     time.Time `json:"ts"`
}

// NewPriceUpdate builds the price payload for s.
func NewPriceUpdate(s PriceSample) PriceUpdate {
	return PriceUpdate{Symbol: s.Symbol, Value: s.Value.String(), TS: s.TS}
}

// IndicatorUpdate is the payload on ChannelIndicator.
type IndicatorUpdate struct {
	Symbol        string             `json:"symbol"`
	IndicatorType IndicatorType      `json:"indicatorType"`
	Key           string             `json:"key"`
	Value         float64            `json:"value"`
	Timeframe     Timeframe          `json:"timeframe,omitempty"`
	Aux           map[string]float64 `json:"aux,omitempty"`
	Start         time.Time          `json:"start"`
	End           time.Time          `json:"end"`
}

// NewIndicatorUpdate builds the indicator payload for r.
func NewIndicatorUpdate(r IndicatorResult) IndicatorUpdate {
	return IndicatorUpdate{
		Symbol:        r.Symbol,
		IndicatorType: r.Spec.Type,
		Key:           r.Spec.Key(),
		Value:         r.Value,
		Timeframe:     r.Spec.Timeframe,
		Aux:           r.Aux,
		Start:         r.Start,
		End:           r.End,
	}
}

// SymbolUpdated is published by the poller after a successful fetch.
type SymbolUpdated struct {
	Symbol string
	Latest PriceSample
}
