package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestJobMetricsRecordsRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewJobMetrics(reg)

	m.ObserveRun("outbox-retention", 50*time.Millisecond, nil)
	m.ObserveRun("outbox-retention", 10*time.Millisecond, errors.New("db down"))
	m.ObserveRun("", time.Millisecond, nil)
	m.SetOverstays(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "housekeeping_job_runs_total", "result", "failure"); err != nil {
		t.Fatalf("fetch failures: %v", err)
	} else if got != 1 {
		t.Fatalf("expected 1 failure, got %f", got)
	}

	if _, err := fetchHistogramSum(mfs, "housekeeping_job_duration_seconds", "job", "unknown"); err != nil {
		t.Fatalf("expected empty job name to be normalized: %v", err)
	}

	mf := findMetricFamily(mfs, "visitor_overstays")
	if mf == nil || len(mf.GetMetric()) != 1 {
		t.Fatal("expected overstay gauge")
	}
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 3 {
		t.Fatalf("expected 3 overstays, got %f", got)
	}
}

func TestJobMetricsNilSafe(t *testing.T) {
	var m *JobMetrics
	m.ObserveRun("x", time.Second, nil)
	m.SetOverstays(1)
	NewJobMetrics(nil).ObserveRun("x", time.Second, nil)
}
