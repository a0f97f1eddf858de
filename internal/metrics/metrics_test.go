package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"market-scanner/internal/crawl"
	"market-scanner/internal/market"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	snap := market.Snapshot{Name: "Golden Helmet", SellOffer: 600, Profit: 78, ActiveTraders: 5}
	for i := 0; i < 2; i++ {
		if err := r.Record(context.Background(), crawl.Entry{Category: "helmets", Snapshot: snap}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	start := time.Unix(1_700_000_000, 0)
	r.ObserveRun(crawl.Summary{
		StartedAt:  start,
		FinishedAt: start.Add(10 * time.Minute),
		Categories: []crawl.CategorySummary{{Name: "helmets", Drifts: 3}},
		Aborted:    true,
	})

	fams := gather(t, reg)
	if got := fams["marketscan_items_recorded_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Fatalf("items = %v", got)
	}
	if got := fams["marketscan_last_sell_offer"].GetMetric()[0].GetGauge().GetValue(); got != 600 {
		t.Fatalf("last sell = %v", got)
	}
	if got := fams["marketscan_drifts_total"].GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Fatalf("drifts = %v", got)
	}
	runs := fams["marketscan_runs_total"].GetMetric()[0]
	if runs.GetLabel()[0].GetValue() != "aborted" || runs.GetCounter().GetValue() != 1 {
		t.Fatalf("runs = %v", runs)
	}
	if got := fams["marketscan_run_duration_seconds"].GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Fatalf("run duration samples = %d", got)
	}
}
