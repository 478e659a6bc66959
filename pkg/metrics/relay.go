package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Relay outcomes for outbox rows.
const (
	RelayPublished    = "published"
	RelayRetry        = "retry"
	RelayDeadLettered = "dead_lettered"
	RelayDeferred     = "deferred"
)

// RelayMetrics records outbox relay activity.
type RelayMetrics struct {
	events  *prometheus.CounterVec
	publish prometheus.Histogram
	batches prometheus.Histogram
}

// NewRelayMetrics registers the relay metrics. A nil registerer yields a
// no-op recorder.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return &RelayMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_relay_events_total",
		Help: "Outbox rows handled by the relay, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	publish := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_relay_publish_duration_seconds",
		Help:    "Time from publish call to broker acknowledgement.",
		Buckets: prometheus.DefBuckets,
	})
	batches := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_relay_batch_rows",
		Help:    "Rows fetched per relay batch.",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
	})
	reg.MustRegister(events, publish, batches)
	return &RelayMetrics{events: events, publish: publish, batches: batches}
}

func (m *RelayMetrics) IncEvent(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *RelayMetrics) ObservePublish(d time.Duration) {
	if m == nil || m.publish == nil {
		return
	}
	m.publish.Observe(d.Seconds())
}

func (m *RelayMetrics) ObserveBatch(rows int) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Observe(float64(rows))
}
