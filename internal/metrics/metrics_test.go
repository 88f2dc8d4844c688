package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はレジストリから指定名・指定ラベルのメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if NewCollector(prometheus.NewRegistry()) == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordSignIn_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSignIn(OutcomeSuccess)
	c.RecordSignIn(OutcomeSuccess)
	c.RecordSignIn(OutcomeFailure)

	if v := findMetric(t, reg, "forensiclab_sign_ins_total", map[string]string{"outcome": "success"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("success = %v, want 2", v)
	}
	if v := findMetric(t, reg, "forensiclab_sign_ins_total", map[string]string{"outcome": "failure"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("failure = %v, want 1", v)
	}
}

func TestRecordResultRecorded_CountsAndObservesTime(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordResultRecorded("fake", 1500*time.Millisecond)
	c.RecordResultRecorded("real", 200*time.Millisecond)

	if v := findMetric(t, reg, "forensiclab_results_recorded_total", map[string]string{"classification": "fake"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("fake = %v, want 1", v)
	}
	h := findMetric(t, reg, "forensiclab_analysis_time_seconds", nil).GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if s := h.GetSampleSum(); s < 1.69 || s > 1.71 {
		t.Errorf("sample sum = %v, want 1.7", s)
	}
}

func TestRecordWriteRejected_Labels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordWriteRejected("record_result", "conflict")

	m := findMetric(t, reg, "forensiclab_writes_rejected_total", map[string]string{"operation": "record_result", "kind": "conflict"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("rejected = %v, want 1", v)
	}
}

func TestRecordCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAnalysisCreated()
	c.RecordBackfill(OutcomeSkipped)
	c.RecordRetentionDeleted(5)
	c.RecordHTTPStatus(409)

	if v := findMetric(t, reg, "forensiclab_analyses_created_total", nil).GetCounter().GetValue(); v != 1 {
		t.Errorf("analyses created = %v, want 1", v)
	}
	if v := findMetric(t, reg, "forensiclab_dimension_backfill_total", map[string]string{"outcome": "skipped"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("backfill skipped = %v, want 1", v)
	}
	if v := findMetric(t, reg, "forensiclab_retention_deleted_total", nil).GetCounter().GetValue(); v != 5 {
		t.Errorf("retention deleted = %v, want 5", v)
	}
	if v := findMetric(t, reg, "forensiclab_http_status_total", map[string]string{"status_code": "409"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("http 409 = %v, want 1", v)
	}
}

// 別レジストリのCollector同士は値を共有しない。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1, reg2 := prometheus.NewRegistry(), prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	NewCollector(reg2)

	c1.RecordAnalysisCreated()

	if v := findMetric(t, reg2, "forensiclab_analyses_created_total", nil).GetCounter().GetValue(); v != 0 {
		t.Errorf("reg2 analyses created = %v, want 0", v)
	}
}
