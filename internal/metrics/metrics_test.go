package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCollectorsRegisterCleanly(t *testing.T) {
	m := New("invoice_sync")
	reg := prometheus.NewRegistry()
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	m.SyncItems.WithLabelValues("invoice", "success").Inc()
	m.SyncItems.WithLabelValues("invoice", "success").Inc()
	m.SyncQueueDepth.Set(4)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]*dto.MetricFamily{}
	for _, f := range families {
		got[f.GetName()] = f
	}

	items := got["invoice_sync_sync_items_total"]
	if items == nil || items.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Fatalf("unexpected sync items family: %v", items)
	}
	depth := got["invoice_sync_sync_queue_depth"]
	if depth == nil || depth.GetMetric()[0].GetGauge().GetValue() != 4 {
		t.Fatalf("unexpected queue depth family: %v", depth)
	}
}
