package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VisitorMetrics exports occupancy and lifecycle activity.
type VisitorMetrics struct {
	occupancy     *prometheus.GaugeVec
	registrations *prometheus.CounterVec
	checkouts     *prometheus.CounterVec
	photoFailures prometheus.Counter
	refresh       *prometheus.HistogramVec
}

// NewVisitorMetrics registers the visitor metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewVisitorMetrics(reg prometheus.Registerer) *VisitorMetrics {
	if reg == nil {
		return &VisitorMetrics{}
	}
	occupancy := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "visitors_by_status",
		Help: "Visitor records currently in each lifecycle status.",
	}, []string{"status"})
	registrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "visitor_registrations_total",
		Help: "Registration attempts by outcome.",
	}, []string{"outcome"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "visitor_checkouts_total",
		Help: "Checkout redemptions by outcome.",
	}, []string{"outcome"})
	photoFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "visitor_photo_upload_failures_total",
		Help: "Photo uploads that failed and left the record without a photo.",
	})
	refresh := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashboard_refresh_duration_seconds",
		Help:    "Duration of full dashboard refetch and aggregation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})
	reg.MustRegister(occupancy, registrations, checkouts, photoFailures, refresh)
	return &VisitorMetrics{
		occupancy:     occupancy,
		registrations: registrations,
		checkouts:     checkouts,
		photoFailures: photoFailures,
		refresh:       refresh,
	}
}

// SetOccupancy publishes the latest per-status counts.
func (m *VisitorMetrics) SetOccupancy(registered, checkedIn, checkedOut int) {
	if m == nil || m.occupancy == nil {
		return
	}
	m.occupancy.WithLabelValues("registered").Set(float64(registered))
	m.occupancy.WithLabelValues("checked_in").Set(float64(checkedIn))
	m.occupancy.WithLabelValues("checked_out").Set(float64(checkedOut))
}

func (m *VisitorMetrics) IncRegistration(outcome string) {
	if m == nil || m.registrations == nil {
		return
	}
	m.registrations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *VisitorMetrics) IncCheckout(outcome string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *VisitorMetrics) IncPhotoFailure() {
	if m == nil || m.photoFailures == nil {
		return
	}
	m.photoFailures.Inc()
}

// ObserveRefresh records one dashboard refresh.
func (m *VisitorMetrics) ObserveRefresh(d time.Duration, err error) {
	if m == nil || m.refresh == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refresh.WithLabelValues(result).Observe(d.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
