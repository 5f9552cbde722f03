package blockchain

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce       sync.Once
	rangeQueryCounter *prometheus.CounterVec
	cacheEventCounter *prometheus.CounterVec
	decisionCounter   *prometheus.CounterVec
	rangeQueryLatency prometheus.Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		rangeQueryCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vrf_range_query_total",
				Help: "Total VRF range oracle queries by result",
			},
			[]string{"result"},
		)
		cacheEventCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vrf_range_cache_events_total",
				Help: "Cache events for VRF range assignments",
			},
			[]string{"event"},
		)
		decisionCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vrf_range_decisions_total",
				Help: "Range admission decisions by outcome",
			},
			[]string{"outcome"},
		)
		rangeQueryLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vrf_range_query_seconds",
			Help:    "Latency of VRF range oracle queries",
			Buckets: prometheus.DefBuckets,
		})

		prometheus.MustRegister(rangeQueryCounter, cacheEventCounter, decisionCounter, rangeQueryLatency)
	})
}

func observeRangeQuery(result string) {
	initMetrics()
	rangeQueryCounter.WithLabelValues(result).Inc()
}

func observeCacheEvent(event string) {
	initMetrics()
	cacheEventCounter.WithLabelValues(event).Inc()
}

func observeDecision(outcome string) {
	initMetrics()
	decisionCounter.WithLabelValues(outcome).Inc()
}

func observeRangeLatency(d time.Duration) {
	initMetrics()
	rangeQueryLatency.Observe(d.Seconds())
}
