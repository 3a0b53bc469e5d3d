package main

import (
	"log/slog"

	"valchi/core/events"
	"valchi/native/deal"
	"valchi/observability"
)

// metricsEmitter feeds protocol events into the daemon's activity log and the
// prometheus counters.
type metricsEmitter struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

func newMetricsEmitter(logger *slog.Logger, metrics *observability.Metrics) *metricsEmitter {
	return &metricsEmitter{logger: logger, metrics: metrics}
}

// Emit implements events.Emitter.
func (m *metricsEmitter) Emit(event events.Event) {
	if event == nil {
		return
	}
	eventType := event.EventType()
	switch eventType {
	case deal.TypeDealCreated:
		m.metrics.DealsCreated.Inc()
	case deal.TypeDealActivated:
		m.metrics.DealsActivated.Inc()
	case deal.TypeDealDefaulted:
		m.metrics.DealsDefaulted.Inc()
	case deal.TypeDealDistributed:
		m.metrics.Distributions.Inc()
	}
	m.logger.Debug("protocol event", "type", eventType)
}
