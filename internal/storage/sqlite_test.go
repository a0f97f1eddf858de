package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"market-scanner/internal/config"
	"market-scanner/internal/crawl"
	"market-scanner/internal/market"
)

func setupTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entry(name string, sell int64, at time.Time) crawl.Entry {
	return crawl.Entry{Category: "helmets", Snapshot: market.Snapshot{
		ItemID:    3351,
		Name:      name,
		BuyOffer:  500,
		SellOffer: sell,
		MonthBuy:  market.SideStats{Total: 5000, Count: 10},
		MonthSell: market.SideStats{Total: 1200, Count: 2},
		Profit:    78,
		RelProfit: decimal.RequireFromString("0.16"),
		PolledAt:  at,
	}}
}

func TestSQLiteSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	base := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	runID, err := s.StartRun(ctx, base)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	rec := NewRecorder(s, runID)
	for i, sell := range []int64{600, 610, 620} {
		if err := rec.Record(ctx, entry("Golden Helmet", sell, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := rec.Record(ctx, entry("Iron Shield", 90, base)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	count, err := s.CountSnapshots(ctx)
	if err != nil || count != 4 {
		t.Fatalf("count = %d, err = %v", count, err)
	}

	history, err := s.ListItemHistory(ctx, "golden helmet", base, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ListItemHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d rows", len(history))
	}
	first := history[0]
	if first.SellOffer != 600 || first.MonthAvgBuy != 500 || first.Sold != 2 || first.Bought != 10 || first.RunID != runID {
		t.Fatalf("first = %+v", first)
	}
	if !first.RelProfit.Equal(decimal.RequireFromString("0.16")) {
		t.Fatalf("rel profit = %s", first.RelProfit)
	}
	if !first.PolledAt.Equal(base) {
		t.Fatalf("polled at = %v", first.PolledAt)
	}

	recent, err := s.ListRecentSnapshots(ctx, 1)
	if err != nil {
		t.Fatalf("ListRecentSnapshots: %v", err)
	}
	if len(recent) != 1 || recent[0].SellOffer != 620 {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestSQLiteRuns(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	start := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	id, err := s.StartRun(ctx, start)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	sum := crawl.Summary{
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Minute),
		Categories: []crawl.CategorySummary{{Name: "helmets", Items: 40, Drifts: 2}, {Name: "armor", Items: 2}},
		Aborted:    true,
		Reason:     "drift",
	}
	if err := s.FinishRun(ctx, NewRunRecord(id, sum)); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := s.ListRecentRuns(ctx, 5)
	if err != nil {
		t.Fatalf("ListRecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d", len(runs))
	}
	got := runs[0]
	if got.Items != 42 || got.Drifts != 2 || !got.Aborted || got.Reason != "drift" {
		t.Fatalf("run = %+v", got)
	}
	if !got.FinishedAt.Equal(sum.FinishedAt) {
		t.Fatalf("finished at = %v", got.FinishedAt)
	}

	if err := s.FinishRun(ctx, RunRecord{ID: id + 100}); err == nil {
		t.Fatal("finishing an unknown run should fail")
	}
}

func TestOpenDriverSelection(t *testing.T) {
	ctx := context.Background()

	repo, err := Open(ctx, config.DatabaseConfig{Driver: "none"})
	if err != nil || repo != nil {
		t.Fatalf("none: repo = %v, err = %v", repo, err)
	}

	repo, err = Open(ctx, config.DatabaseConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	_ = repo.Close()

	if _, err := Open(ctx, config.DatabaseConfig{Driver: "mysql"}); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(ctx, config.DatabaseConfig{Driver: "postgres"}); err == nil {
		t.Fatal("postgres without dsn accepted")
	}
}

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	if _, err := s.CountSnapshots(context.Background()); err != ErrNotConfigured {
		t.Fatalf("err = %v", err)
	}
}
