package automation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"market-scanner/internal/market"
)

type recorder struct {
	argv [][]string
	out  []byte
	err  error
}

func (r *recorder) run(_ context.Context, argv []string) ([]byte, error) {
	r.argv = append(r.argv, argv)
	return r.out, r.err
}

func newTestRunner(cmds Commands, rec *recorder) *Runner {
	r := New(Options{Commands: cmds}, zerolog.Nop())
	r.run = rec.run
	return r
}

func TestOpenCategorySubstitutesName(t *testing.T) {
	rec := &recorder{}
	r := newTestRunner(Commands{OpenCategory: []string{"xdotool-script", "open", "--name={category}"}}, rec)

	if err := r.OpenCategory(context.Background(), "helmets"); err != nil {
		t.Fatalf("OpenCategory: %v", err)
	}
	want := [][]string{{"xdotool-script", "open", "--name=helmets"}}
	if diff := cmp.Diff(want, rec.argv); diff != "" {
		t.Fatalf("argv (-want +got):\n%s", diff)
	}
}

func TestUnconfiguredActionIsNoop(t *testing.T) {
	rec := &recorder{}
	r := newTestRunner(Commands{}, rec)
	if err := r.Advance(context.Background()); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(rec.argv) != 0 {
		t.Fatalf("ran %v", rec.argv)
	}
}

func TestActionErrorIsWrapped(t *testing.T) {
	boom := errors.New("exit status 1")
	rec := &recorder{err: boom}
	r := newTestRunner(Commands{AntiIdle: []string{"wiggle"}}, rec)

	err := r.AntiIdle(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestSampleDecodesJSON(t *testing.T) {
	rec := &recorder{out: []byte(`{"buy_offer":500,"sell_offer":600,"max_buy":700,"max_sell":800,"item_id":3351}` + "\n")}
	r := newTestRunner(Commands{Sample: []string{"ocr-sample"}}, rec)

	got, err := r.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	want := market.Sample{BuyOffer: 500, SellOffer: 600, MaxBuy: 700, MaxSell: 800, ItemID: 3351}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sample (-want +got):\n%s", diff)
	}
}

func TestSampleRejectsGarbage(t *testing.T) {
	tests := map[string]string{
		"not json": "buy=500",
		"empty":    "{}",
	}
	for name, out := range tests {
		t.Run(name, func(t *testing.T) {
			r := newTestRunner(Commands{Sample: []string{"ocr-sample"}}, &recorder{out: []byte(out)})
			if _, err := r.Sample(context.Background()); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	r := newTestRunner(Commands{}, &recorder{})
	if _, err := r.Sample(context.Background()); err == nil {
		t.Fatal("missing sample command should fail")
	}
}
