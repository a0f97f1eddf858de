package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-scanner/internal/config"
	"market-scanner/internal/crawl"
	"market-scanner/internal/market"
	"market-scanner/internal/storage"
)

type sink struct {
	names []string
	err   error
}

func (s *sink) Record(_ context.Context, e crawl.Entry) error {
	if s.err != nil {
		return s.err
	}
	s.names = append(s.names, e.Snapshot.Name)
	return nil
}

func snap(name string, profit int64) crawl.Entry {
	return crawl.Entry{Snapshot: market.Snapshot{Name: name, Profit: profit, RelProfit: decimal.NewFromInt(1)}}
}

func TestFanoutPrimaryFailureStops(t *testing.T) {
	boom := errors.New("disk full")
	secondary := &sink{}
	f := &fanout{primary: &sink{err: boom}, logger: zerolog.Nop()}
	f.add("secondary", secondary)

	if err := f.Record(context.Background(), snap("a", 1)); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(secondary.names) != 0 {
		t.Fatalf("secondary saw %v", secondary.names)
	}
}

func TestFanoutSecondaryFailureIsLogged(t *testing.T) {
	primary, healthy := &sink{}, &sink{}
	f := &fanout{primary: primary, logger: zerolog.Nop()}
	f.add("broken", &sink{err: errors.New("broker down")})
	f.add("healthy", healthy)

	if err := f.Record(context.Background(), snap("a", 1)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(primary.names) != 1 || len(healthy.names) != 1 {
		t.Fatalf("primary %v healthy %v", primary.names, healthy.names)
	}
}

func TestFlipCollectorKeepsTopN(t *testing.T) {
	c := newFlipCollector(2)
	for _, e := range []crawl.Entry{snap("A", 10), snap("B", -5), snap("C", 30), snap("D", 20)} {
		_ = c.Record(context.Background(), e)
	}
	var got []string
	for _, f := range c.top() {
		got = append(got, f.Name)
	}
	if diff := cmp.Diff([]string{"c", "d"}, got); diff != "" {
		t.Fatalf("top (-want +got):\n%s", diff)
	}
}

type lockedRepo struct {
	storage.Repository
	acquired bool
}

func (r *lockedRepo) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	return func() {}, r.acquired, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{AdvisoryLockKey: 42},
		Catalog:  config.CatalogConfig{File: "missing.yaml"},
	}
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	opened := false
	svc := New(testConfig(), nil, Deps{
		Repository: &lockedRepo{acquired: false},
		OpenTarget: func(context.Context) (Target, error) {
			opened = true
			return nil, errors.New("should not open")
		},
	}, zerolog.Nop())

	sum, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if opened || !sum.StartedAt.Equal(time.Time{}) {
		t.Fatalf("run was not skipped: opened=%v sum=%+v", opened, sum)
	}
}

func TestRunOnceWrapsTargetError(t *testing.T) {
	gone := errors.New("no such process")
	svc := New(testConfig(), nil, Deps{
		OpenTarget: func(context.Context) (Target, error) { return nil, gone },
	}, zerolog.Nop())

	if _, err := svc.RunOnce(context.Background()); !errors.Is(err, gone) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunWithoutScheduler(t *testing.T) {
	svc := New(testConfig(), nil, Deps{}, zerolog.Nop())
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected error without scheduler")
	}
}
