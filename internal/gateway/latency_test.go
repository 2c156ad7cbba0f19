package gateway

import (
	"math"
	"testing"
	"time"
)

func ms(n float64) time.Duration { return time.Duration(n * float64(time.Millisecond)) }

func TestLatencyTracker_Empty(t *testing.T) {
	s := NewLatencyTracker(100).Summary()
	if s != (LatencySummary{}) {
		t.Errorf("empty tracker: got %+v, want zero summary", s)
	}
}

func TestLatencyTracker_SingleSample(t *testing.T) {
	lt := NewLatencyTracker(100)
	lt.Record(ms(42.5))

	s := lt.Summary()
	for name, got := range map[string]float64{"p50": s.P50, "p95": s.P95, "p99": s.P99, "max": s.Max} {
		if got != 42.5 {
			t.Errorf("%s: got %f, want 42.5", name, got)
		}
	}
}

func TestLatencyTracker_Percentiles(t *testing.T) {
	lt := NewLatencyTracker(10000)
	for i := 1; i <= 100; i++ {
		lt.Record(ms(float64(i)))
	}

	s := lt.Summary()
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"p50", s.P50, 50.5},
		{"p95", s.P95, 95.05},
		{"p99", s.P99, 99.01},
		{"max", s.Max, 100},
	}
	for _, tt := range tests {
		if math.Abs(tt.got-tt.want) > 1e-6 {
			t.Errorf("%s: got %f, want %f", tt.name, tt.got, tt.want)
		}
	}
	if s.Count != 100 {
		t.Errorf("count: got %d, want 100", s.Count)
	}
}

func TestLatencyTracker_Wraparound(t *testing.T) {
	lt := NewLatencyTracker(10)
	for i := 1; i <= 20; i++ {
		lt.Record(ms(float64(i)))
	}

	s := lt.Summary()
	// window holds 11..20
	if math.Abs(s.P50-15.5) > 1e-6 {
		t.Errorf("p50 after wraparound: got %f, want 15.5", s.P50)
	}
	if s.Count != 20 {
		t.Errorf("count: got %d, want 20 (lifetime)", s.Count)
	}
}

func TestLatencyTracker_NegativeClampedToZero(t *testing.T) {
	lt := NewLatencyTracker(4)
	lt.Record(-time.Second)
	if s := lt.Summary(); s.Max != 0 {
		t.Errorf("max: got %f, want 0", s.Max)
	}
}
