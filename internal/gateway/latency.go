package gateway

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent queue-to-write delays in a ring and
// reports percentiles. Thread-safe.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	pos     int
	count   int
	total   uint64
}

// LatencySummary is a percentile snapshot in milliseconds.
type LatencySummary struct {
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Max   float64 `json:"max_ms"`
	Count uint64  `json:"count"` // all samples ever recorded
}

// NewLatencyTracker creates a tracker that holds the last capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{samples: make([]time.Duration, capacity)}
}

// Record adds one delay. Negative values (clock steps) count as zero.
func (lt *LatencyTracker) Record(d time.Duration) {
	if d < 0 {
		d = 0
	}
	lt.mu.Lock()
	lt.samples[lt.pos] = d
	lt.pos = (lt.pos + 1) % len(lt.samples)
	if lt.count < len(lt.samples) {
		lt.count++
	}
	lt.total++
	lt.mu.Unlock()
}

// Summary returns percentiles over the retained window. All zero when empty.
func (lt *LatencyTracker) Summary() LatencySummary {
	lt.mu.Lock()
	n, total := lt.count, lt.total
	window := make([]float64, n)
	for i := 0; i < n; i++ {
		window[i] = float64(lt.samples[i]) / float64(time.Millisecond)
	}
	lt.mu.Unlock()

	if n == 0 {
		return LatencySummary{Count: total}
	}
	sort.Float64s(window)
	return LatencySummary{
		P50:   percentile(window, 0.50),
		P95:   percentile(window, 0.95),
		P99:   percentile(window, 0.99),
		Max:   window[n-1],
		Count: total,
	}
}

// percentile interpolates the p-th percentile (0.0–1.0) of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	if lower+1 >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}
