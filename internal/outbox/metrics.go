package outbox

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the relay's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	ticks         *prometheus.CounterVec
	events        *prometheus.CounterVec
	batchDuration prometheus.Histogram
	backlog       prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brigade_outbox_relay_ticks_total",
			Help: "Relay ticks by outcome.",
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brigade_outbox_events_total",
			Help: "Outbox events seen by the relay, by outcome.",
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "brigade_outbox_batch_duration_seconds",
			Help:    "Time spent processing one relay batch.",
			Buckets: prometheus.DefBuckets,
		}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brigade_outbox_backlog",
			Help: "Pending outbox events after the last tick.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.ticks, m.events, m.batchDuration, m.backlog} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register outbox metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeTick(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(outcome).Inc()
	if outcome != tickBusy {
		m.batchDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) addEvents(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.events.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) setBacklog(n int64) {
	if m == nil {
		return
	}
	m.backlog.Set(float64(n))
}
