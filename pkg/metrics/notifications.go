package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registration email outcomes.
const (
	EmailSent      = "sent"
	EmailFailed    = "failed"
	EmailDuplicate = "duplicate"
	EmailInvalid   = "invalid"
	EmailRequeued  = "requeued"
)

// NotificationMetrics counts registration email handling.
type NotificationMetrics struct {
	emails *prometheus.CounterVec
}

// NewNotificationMetrics registers the notification metrics. A nil
// registerer yields a no-op recorder.
func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	if reg == nil {
		return &NotificationMetrics{}
	}
	emails := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_emails_total",
		Help: "visitor_registered messages handled by the notification worker, by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(emails)
	return &NotificationMetrics{emails: emails}
}

func (m *NotificationMetrics) IncEmail(outcome string) {
	if m == nil || m.emails == nil {
		return
	}
	m.emails.WithLabelValues(normalizeLabel(outcome)).Inc()
}
