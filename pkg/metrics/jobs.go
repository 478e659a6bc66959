package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics records housekeeping job runs.
type JobMetrics struct {
	duration  *prometheus.HistogramVec
	runs      *prometheus.CounterVec
	overstays prometheus.Gauge
}

// NewJobMetrics registers the housekeeping metrics. A nil registerer yields a
// no-op recorder.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "housekeeping_job_duration_seconds",
		Help:    "Duration of housekeeping jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "housekeeping_job_runs_total",
		Help: "Housekeeping job executions by result.",
	}, []string{"job", "result"})
	overstays := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "visitor_overstays",
		Help: "Checked-in visitors whose visit window has ended.",
	})
	reg.MustRegister(duration, runs, overstays)
	return &JobMetrics{duration: duration, runs: runs, overstays: overstays}
}

// ObserveRun records one job execution.
func (m *JobMetrics) ObserveRun(job string, d time.Duration, err error) {
	if m == nil || m.duration == nil {
		return
	}
	job = normalizeLabel(job)
	m.duration.WithLabelValues(job).Observe(d.Seconds())
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.runs.WithLabelValues(job, result).Inc()
}

func (m *JobMetrics) SetOverstays(n int) {
	if m == nil || m.overstays == nil {
		return
	}
	m.overstays.Set(float64(n))
}
