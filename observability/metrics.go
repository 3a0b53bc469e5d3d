// Package observability holds the daemon's Prometheus instrumentation.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the protocol counters and gauges the daemon exports.
type Metrics struct {
	DealsCreated    prometheus.Counter
	DealsActivated  prometheus.Counter
	DealsDefaulted  prometheus.Counter
	Distributions   prometheus.Counter
	PoolDeposits    prometheus.Gauge
	PoolAllocated   prometheus.Gauge
	CycleIndex      prometheus.Gauge
	RequestDuration *prometheus.HistogramVec
}

// New registers the protocol metrics on the registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DealsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "valchi", Name: "deals_created_total",
			Help: "Deals created by the factory.",
		}),
		DealsActivated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "valchi", Name: "deals_activated_total",
			Help: "Deals whose funding target was met.",
		}),
		DealsDefaulted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "valchi", Name: "deals_defaulted_total",
			Help: "Deals marked defaulted after the grace period.",
		}),
		Distributions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "valchi", Name: "distributions_total",
			Help: "Waterfall distributions applied.",
		}),
		PoolDeposits: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "valchi", Name: "pool_total_deposits",
			Help: "Liquidity pool net asset value.",
		}),
		PoolAllocated: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "valchi", Name: "pool_total_allocated",
			Help: "Senior capital deployed into deals.",
		}),
		CycleIndex: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "valchi", Name: "conversion_cycle_index",
			Help: "Index of the active conversion cycle.",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "valchi", Name: "http_request_duration_seconds",
			Help:    "HTTP handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}
