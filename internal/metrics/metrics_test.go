package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SyncObserved("submitted", time.Second)
	m.SyncObserved("blocked", time.Millisecond)
	m.Discarded(2)
	m.Submitted(0)

	if got := counterValue(t, reg, "quizsync_sync_total"); got != 2 {
		t.Fatalf("sync_total = %v", got)
	}
	if got := counterValue(t, reg, "quizsync_discarded_slots_total"); got != 2 {
		t.Fatalf("discarded = %v", got)
	}
	if got := counterValue(t, reg, "quizsync_submitted_answers_total"); got != 0 {
		t.Fatalf("submitted = %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.SyncObserved("error", time.Second)
	m.Discarded(1)
	m.Submitted(1)
	m.Request("GET", "/", 200)
	if m.Handler() == nil {
		t.Fatalf("nil metrics must still serve a handler")
	}
}
