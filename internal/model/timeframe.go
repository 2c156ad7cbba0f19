package model

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is a candle granularity expressed in minutes.
// The zero value means "unset" and resolves to the feed's native timeframe.
type Timeframe int

const (
	OneMinute      Timeframe = 1
	FiveMinutes    Timeframe = 5
	FifteenMinutes Timeframe = 15
	ThirtyMinutes  Timeframe = 30
	OneHour        Timeframe = 60
	FourHours      Timeframe = 240
	OneDay         Timeframe = 1440
)

var timeframeLabels = map[Timeframe]string{
	OneMinute:      "1m",
	FiveMinutes:    "5m",
	FifteenMinutes: "15m",
	ThirtyMinutes:  "30m",
	OneHour:        "1h",
	FourHours:      "4h",
	OneDay:         "1d",
}

// Timeframes lists every supported timeframe from finest to coarsest.
var Timeframes = []Timeframe{OneMinute, FiveMinutes, FifteenMinutes, ThirtyMinutes, OneHour, FourHours, OneDay}

// ParseTimeframe parses a label such as "5m" or "1h". An empty string yields
// the zero Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	for tf, label := range timeframeLabels {
		if label == s {
			return tf, nil
		}
	}
	return 0, &ValidationError{Field: "timeframe", Reason: fmt.Sprintf("unknown timeframe %q", s)}
}

// Minutes returns the number of minutes in one bucket.
func (tf Timeframe) Minutes() int { return int(tf) }

// Duration returns the bucket length.
func (tf Timeframe) Duration() time.Duration { return time.Duration(tf) * time.Minute }

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeLabels[tf]
	return ok
}

func (tf Timeframe) String() string {
	if label, ok := timeframeLabels[tf]; ok {
		return label
	}
	if tf == 0 {
		return ""
	}
	return fmt.Sprintf("%dm", int(tf))
}

// MarshalText encodes the timeframe as its label.
func (tf Timeframe) MarshalText() ([]byte, error) {
	return []byte(tf.String()), nil
}

// UnmarshalText decodes a label.
func (tf *Timeframe) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeframe(string(b))
	if err != nil {
		return err
	}
	*tf = parsed
	return nil
}
