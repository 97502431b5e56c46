package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsExportsRunsAndLastSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	job := "verification-expiry"
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job, at)
	metrics.IncFailure(job)
	metrics.IncFailure(job)
	metrics.IncSkipped()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	runs := findMetricFamily(mfs, "waterbot_cron_job_runs_total")
	if runs == nil {
		t.Fatal("runs counter not exported")
	}
	byOutcome := map[string]float64{}
	for _, m := range runs.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "outcome" {
				byOutcome[l.GetValue()] = m.GetCounter().GetValue()
			}
		}
	}
	if byOutcome["success"] != 1 || byOutcome["failure"] != 2 {
		t.Fatalf("unexpected run counts %v", byOutcome)
	}

	last := findMetricFamily(mfs, "waterbot_cron_job_last_success_timestamp_seconds")
	if last == nil || len(last.GetMetric()) != 1 {
		t.Fatal("last success gauge not exported")
	}
	if got := last.GetMetric()[0].GetGauge().GetValue(); got != float64(at.Unix()) {
		t.Fatalf("expected last success %d, got %f", at.Unix(), got)
	}

	skipped := findMetricFamily(mfs, "waterbot_cron_cycles_skipped_total")
	if skipped == nil || skipped.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatal("expected one skipped cycle")
	}

	if got, err := fetchHistogramSum(mfs, "waterbot_cron_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestNilRegistererIsSafe(t *testing.T) {
	metrics := NewCronJobMetrics(nil)
	metrics.IncSuccess("noop", time.Now())
	metrics.ObserveDuration("", time.Second)
	metrics.IncSkipped()

	var missing *CronJobMetrics
	missing.IncFailure("noop")
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
