package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextRun(t *testing.T) {
	s, err := New(Options{Times: []string{"18:00", "06:00"}, Location: time.UTC}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	day := func(d, h, m int) time.Time { return time.Date(2025, 3, d, h, m, 0, 0, time.UTC) }
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before first", day(1, 5, 59), day(1, 6, 0)},
		{"exactly first", day(1, 6, 0), day(1, 18, 0)},
		{"between", day(1, 12, 30), day(1, 18, 0)},
		{"after last", day(1, 18, 1), day(2, 6, 0)},
		{"month end", time.Date(2025, 3, 31, 23, 0, 0, 0, time.UTC), time.Date(2025, 4, 1, 6, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.NextRun(tt.now); !got.Equal(tt.want) {
				t.Fatalf("NextRun(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestNewRejectsBadTimes(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); err == nil {
		t.Fatal("empty times accepted")
	}
	if _, err := New(Options{Times: []string{"6am"}}, zerolog.Nop()); err == nil {
		t.Fatal("bad time accepted")
	}
}

func TestRunOnStartThenCancel(t *testing.T) {
	s, err := New(Options{Times: []string{"06:00"}, RunOnStart: true, Location: time.UTC}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err = s.Run(ctx, func(context.Context, time.Time) error {
		calls++
		cancel()
		return errors.New("tick failure is only logged")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}
