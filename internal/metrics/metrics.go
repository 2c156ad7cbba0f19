// Package metrics holds the service's Prometheus instruments and the
// /healthz status served next to /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the indicator service.
type Metrics struct {
	// Poller
	PollsTotal       prometheus.Counter
	PricesTotal      prometheus.Counter
	FeedErrors       *prometheus.CounterVec // labels: kind
	SymbolsThrottled prometheus.Counter
	EventsDropped    prometheus.Counter
	QueueDepth       prometheus.Gauge

	// Recompute / broadcast
	RecomputeDur      prometheus.Histogram
	IndicatorsTotal   prometheus.Counter
	IndicatorFailures *prometheus.CounterVec // labels: kind
	SendErrors        prometheus.Counter
	ClientDrops       *prometheus.CounterVec // labels: channel

	// Registry
	ActiveConnections   prometheus.Gauge
	SubscriptionEntries prometheus.Gauge
	PriceSubscriptions  prometheus.Gauge

	// Cache
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions *prometheus.CounterVec // labels: reason

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// New creates all metrics and registers them with reg. A nil reg uses the
// default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		PollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_polls_total",
			Help: "Completed poll iterations",
		}),
		PricesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_prices_total",
			Help: "Prices fetched successfully from the feed",
		}),
		FeedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indstream_feed_errors_total",
			Help: "Feed failures by kind (unknown_symbol, rate_limited, transport, other)",
		}, []string{"kind"}),
		SymbolsThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_symbols_throttled_total",
			Help: "Symbols skipped because their minimum refresh interval had not elapsed",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_events_dropped_total",
			Help: "Symbol-updated events dropped because the recompute queue was full",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indstream_recompute_queue_depth",
			Help: "Events waiting in the recompute queue",
		}),

		RecomputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indstream_recompute_duration_seconds",
			Help:    "Time to recompute and push every spec of one symbol",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		IndicatorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_indicators_total",
			Help: "Indicator values computed and pushed",
		}),
		IndicatorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indstream_indicator_failures_total",
			Help: "Indicator computations skipped by failure kind",
		}, []string{"kind"}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_send_errors_total",
			Help: "Payloads the transport failed to deliver",
		}),
		ClientDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indstream_client_messages_dropped_total",
			Help: "Messages dropped because a client's send queue was full",
		}, []string{"channel"}),

		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indstream_active_connections",
			Help: "Connections registered with the subscription registry",
		}),
		SubscriptionEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indstream_subscription_entries",
			Help: "Distinct (symbol, spec) entries with at least one subscriber",
		}),
		PriceSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indstream_price_subscription_symbols",
			Help: "Symbols with at least one raw price subscriber",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_cache_hits_total",
			Help: "Local cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_cache_misses_total",
			Help: "Local cache misses",
		}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indstream_cache_evictions_total",
			Help: "Entries leaving the local cache by reason",
		}, []string{"reason"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indstream_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.PollsTotal,
		m.PricesTotal,
		m.FeedErrors,
		m.SymbolsThrottled,
		m.EventsDropped,
		m.QueueDepth,
		m.RecomputeDur,
		m.IndicatorsTotal,
		m.IndicatorFailures,
		m.SendErrors,
		m.ClientDrops,
		m.ActiveConnections,
		m.SubscriptionEntries,
		m.PriceSubscriptions,
		m.CacheHits,
		m.CacheMisses,
		m.CacheEvictions,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}
