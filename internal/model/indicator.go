package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IndicatorType names an indicator kind.
type IndicatorType string

const (
	SMA        IndicatorType = "SMA"
	EMA        IndicatorType = "EMA"
	RSI        IndicatorType = "RSI"
	Bollinger  IndicatorType = "BB"
	Stochastic IndicatorType = "STOCH"
	MACD       IndicatorType = "MACD"
	WilliamsR  IndicatorType = "WILLR"
)

// IndicatorTypes lists every supported indicator kind.
var IndicatorTypes = []IndicatorType{SMA, EMA, RSI, Bollinger, Stochastic, MACD, WilliamsR}

// Default MACD parameters, used when none are supplied.
const (
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
)

// ParseIndicatorType accepts the canonical names plus a few common aliases.
func ParseIndicatorType(s string) (IndicatorType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SMA":
		return SMA, nil
	case "EMA":
		return EMA, nil
	case "RSI":
		return RSI, nil
	case "BB", "BOLLINGER", "BBANDS":
		return Bollinger, nil
	case "STOCH", "STOCHASTIC":
		return Stochastic, nil
	case "MACD":
		return MACD, nil
	case "WILLR", "WILLIAMSR", "%R":
		return WilliamsR, nil
	}
	return "", &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown indicator type %q", s)}
}

// IndicatorSpec identifies one indicator computation.
type IndicatorSpec struct {
	Type      IndicatorType `json:"type"`
	Period    int           `json:"period"`
	Fast      int           `json:"fast,omitempty"`   // MACD only
	Slow      int           `json:"slow,omitempty"`   // MACD only
	Signal    int           `json:"signal,omitempty"` // MACD only
	Timeframe Timeframe     `json:"timeframe,omitempty"`
}

// Normalize fills MACD defaults and mirrors Slow into Period for MACD.
func (s IndicatorSpec) Normalize() IndicatorSpec {
	if s.Type == MACD {
		if s.Fast == 0 && s.Slow == 0 && s.Signal == 0 {
			s.Fast, s.Slow, s.Signal = DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal
		}
		if s.Period == 0 {
			s.Period = s.Slow
		}
	}
	return s
}

// Validate checks the spec's parameters. Call Normalize first for MACD.
func (s IndicatorSpec) Validate() error {
	switch s.Type {
	case SMA, EMA, RSI, Bollinger, Stochastic, WilliamsR, MACD:
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown indicator type %q", s.Type)}
	}
	if s.Period <= 0 {
		return &ValidationError{Field: "period", Reason: fmt.Sprintf("must be > 0, got %d", s.Period)}
	}
	if s.Type == MACD {
		if s.Fast <= 0 || s.Slow <= 0 || s.Signal <= 0 {
			return &ValidationError{Field: "macd", Reason: fmt.Sprintf("fast, slow and signal must be > 0, got %d/%d/%d", s.Fast, s.Slow, s.Signal)}
		}
		if s.Fast >= s.Slow {
			return &ValidationError{Field: "macd", Reason: fmt.Sprintf("fast period %d must be below slow period %d", s.Fast, s.Slow)}
		}
	}
	if s.Timeframe != 0 && !s.Timeframe.Valid() {
		return &ValidationError{Field: "timeframe", Reason: fmt.Sprintf("unsupported timeframe %d minutes", int(s.Timeframe))}
	}
	return nil
}

// Key returns the composite identity, e.g. "SMA:20@5m" or "MACD:12:26:9@1h".
func (s IndicatorSpec) Key() string {
	var b strings.Builder
	b.WriteString(string(s.Type))
	b.WriteByte(':')
	if s.Type == MACD {
		b.WriteString(strconv.Itoa(s.Fast))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(s.Slow))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(s.Signal))
	} else {
		b.WriteString(strconv.Itoa(s.Period))
	}
	b.WriteByte('@')
	b.WriteString(s.Timeframe.String())
	return b.String()
}

func (s IndicatorSpec) String() string { return s.Key() }

// IndicatorResult is one computed indicator value. It is never mutated
// after construction.
type IndicatorResult struct {
	Symbol string             `json:"symbol"`
	Spec   IndicatorSpec      `json:"spec"`
	Value  float64            `json:"value"`
	Start  time.Time          `json:"start"`
	End    time.Time          `json:"end"`
	Aux    map[string]float64 `json:"aux,omitempty"` // e.g. upper/middle/lower, macd/signal/histogram
}

// ValidationError reports a rejected spec, timeframe or sample.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}
