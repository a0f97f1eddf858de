package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-scanner/internal/crawl"
	"market-scanner/internal/market"
)

func entry(name string, sell, buy int64, at time.Time) crawl.Entry {
	profit := market.Profit(buy, sell)
	return crawl.Entry{
		Category: "helmets",
		Snapshot: market.Snapshot{
			Name:      name,
			BuyOffer:  buy,
			SellOffer: sell,
			MonthBuy:  market.SideStats{Total: 300, Count: 3},
			MonthSell: market.SideStats{Total: 800, Count: 4},
			Profit:    profit,
			RelProfit: decimal.NewFromFloat(0.94),
			PolledAt:  at,
		},
	}
}

func TestWriterFinalizeReplacesFullScan(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, fullScanFile), []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0)
	if err := w.Record(ctx, entry("Golden Helmet", 200, 100, at)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	old, _ := os.ReadFile(filepath.Join(dir, fullScanFile))
	if string(old) != "old\n" {
		t.Fatal("full scan replaced before Finalize")
	}

	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, fullScanFile))
	if err != nil {
		t.Fatalf("read full scan: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	want := []string{
		strings.Join(market.CSVHeader, ","),
		"golden helmet,200,100,200,100,4,3,94,0.94,0,0",
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Fatalf("full scan (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(dir, fullScanTmpFile)); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}
}

func TestWriterCloseKeepsPartialScan(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Record(context.Background(), entry("Steel Shield", 50, 40, time.Unix(1, 0))); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, fullScanTmpFile)); err != nil {
		t.Fatalf("partial scan missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, fullScanFile)); !os.IsNotExist(err) {
		t.Fatal("aborted scan produced fullscan.csv")
	}
	if err := w.Record(context.Background(), entry("x", 1, 1, time.Unix(1, 0))); err == nil {
		t.Fatal("record after close should fail")
	}
}

func TestHistoryAppends(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	for i, at := range []time.Time{time.Unix(100, 0), time.Unix(200, 0)} {
		w, err := Open(dir, zerolog.Nop())
		if err != nil {
			t.Fatalf("Open %d: %v", i, err)
		}
		if err := w.Record(ctx, entry("Golden Helmet", 200+int64(i), 100, at)); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
		if err := w.Finalize(); err != nil {
			t.Fatalf("Finalize %d: %v", i, err)
		}
	}

	rows, err := ReadHistory(dir, "Golden Helmet")
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	want := [][]string{
		{"200", "100", "4", "3", "0", "100"},
		{"201", "100", "4", "3", "0", "200"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("history (-want +got):\n%s", diff)
	}
}

func TestHistoryFileName(t *testing.T) {
	tests := map[string]string{
		"Golden Helmet": "golden helmet.csv",
		"a/b":           "a_b.csv",
		"  ":            "unnamed.csv",
		"..":            "unnamed.csv",
	}
	for in, want := range tests {
		if got := HistoryFileName(in); got != want {
			t.Errorf("HistoryFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
