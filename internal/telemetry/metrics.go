package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the relayer's prometheus instruments. A nil
// *Metrics is safe to use and records nothing, which keeps tests quiet.
type Metrics struct {
	EventsProcessed *prometheus.CounterVec
	PollCycles      prometheus.Counter
	PriceRefreshes  prometheus.Counter
}

func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relayer_events_processed_total",
			Help: "Collateral events that reached a terminal outcome.",
		}, []string{"kind", "status"}),
		PollCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "relayer_poll_cycles_total",
			Help: "Completed poll ticks against the Stacks API.",
		}),
		PriceRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Name: "relayer_price_refreshes_total",
			Help: "Completed price cache refreshes.",
		}),
	}
}

func (m *Metrics) ObserveEvent(kind, status string) {
	if m == nil {
		return
	}
	m.EventsProcessed.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ObservePollCycle() {
	if m == nil {
		return
	}
	m.PollCycles.Inc()
}

func (m *Metrics) ObservePriceRefresh() {
	if m == nil {
		return
	}
	m.PriceRefreshes.Inc()
}
