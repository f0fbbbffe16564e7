package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveStage("SILVER", 150*time.Millisecond, nil)
	m.ObserveStage("GOLD", 10*time.Millisecond, errors.New("locked"))
	m.AddRows("silver", OutcomeValid, 7)
	m.AddRows("silver", OutcomeWarning, 2)
	m.AddRows("bronze", OutcomeInserted, 0)
	m.IncRun("DONE")
	m.IncUpload("gold", nil)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounter(mfs, "medallion_rows_total", map[string]string{"layer": "silver", "outcome": "valid"}); err != nil {
		t.Fatalf("fetch rows: %v", err)
	} else if got != 7 {
		t.Fatalf("expected valid rows=7, got %f", got)
	}

	if _, err := fetchCounter(mfs, "medallion_rows_total", map[string]string{"layer": "bronze", "outcome": "inserted"}); err == nil {
		t.Fatal("expected zero-row observation to be skipped")
	}

	if got, err := fetchCounter(mfs, "medallion_runs_total", map[string]string{"state": "DONE"}); err != nil || got != 1 {
		t.Fatalf("expected runs DONE=1, got %f (%v)", got, err)
	}

	if got, err := fetchCounter(mfs, "medallion_uploads_total", map[string]string{"layer": "gold", "status": "success"}); err != nil || got != 1 {
		t.Fatalf("expected uploads gold success=1, got %f (%v)", got, err)
	}

	if got, err := fetchHistogramCount(mfs, "medallion_stage_duration_seconds", map[string]string{"stage": "GOLD", "status": "failure"}); err != nil || got != 1 {
		t.Fatalf("expected one failed GOLD observation, got %d (%v)", got, err)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveStage("BRONZE", time.Second, nil)
	m.AddRows("bronze", OutcomeInserted, 3)
	m.IncRun("FAILED")
	m.IncUpload("bronze", errors.New("x"))

	New(nil).IncRun("DONE")
}

func fetchCounter(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	metric, err := findMetric(mfs, name, labels)
	if err != nil {
		return 0, err
	}
	return metric.GetCounter().GetValue(), nil
}

func fetchHistogramCount(mfs []*dto.MetricFamily, name string, labels map[string]string) (uint64, error) {
	metric, err := findMetric(mfs, name, labels)
	if err != nil {
		return 0, err
	}
	return metric.GetHistogram().GetSampleCount(), nil
}

func findMetric(mfs []*dto.MetricFamily, name string, labels map[string]string) (*dto.Metric, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matchesLabels(metric.GetLabel(), labels) {
				return metric, nil
			}
		}
		return nil, fmt.Errorf("metric %q missing labels %v", name, labels)
	}
	return nil, fmt.Errorf("metric %q not found", name)
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; ok && v == p.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
