package scan

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"market-scanner/internal/procmem"
)

func newTestScanner(img *procmem.Image, chunk int) *Scanner {
	return New(img, Options{ChunkSize: chunk}, zerolog.Nop())
}

func TestNarrowFullScanFindsAlignedMatches(t *testing.T) {
	img := procmem.NewImage()
	img.Map(0x1000, 0x40, "")
	img.Map(0x9000, 0x40, "/usr/lib/libgame.so")
	img.PutInt64(0x1004, 500)
	img.PutInt64(0x100C, 500) // straddles the 16-byte chunk boundary at 0x1010
	img.PutInt64(0x9010, 500) // file-backed, must be skipped
	img.PutBytes(0x1021, []byte{0xF4, 0x01, 0, 0, 0, 0, 0, 0})

	s := newTestScanner(img, 16)
	got, err := s.Narrow(context.Background(), Int64(500), nil)
	if err != nil {
		t.Fatalf("Narrow: %v", err)
	}
	want := []procmem.Address{0x1004, 0x100C}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("full scan mismatch (-want +got):\n%s", diff)
	}
}

func TestNarrowNeverGrowsCandidateSet(t *testing.T) {
	img := procmem.NewImage()
	img.Map(0x1000, 0x1000, "")
	for _, addr := range []procmem.Address{0x1100, 0x1200, 0x1300, 0x1F00} {
		img.PutInt32(addr, 777)
	}
	img.PutInt32(0x1400, 777) // present in memory but not a candidate

	s := newTestScanner(img, 0)
	ctx := context.Background()
	candidates := []procmem.Address{0x1300, 0x1100, 0x1200, 0x1F00, 0x5000}

	img.PutInt32(0x1200, 778)
	got, err := s.Narrow(ctx, Int32(777), candidates)
	if err != nil {
		t.Fatalf("Narrow: %v", err)
	}
	want := []procmem.Address{0x1300, 0x1100, 0x1F00}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("filter mismatch (-want +got):\n%s", diff)
	}

	inInput := make(map[procmem.Address]bool, len(candidates))
	for _, c := range candidates {
		inInput[c] = true
	}
	for _, addr := range got {
		if !inInput[addr] {
			t.Fatalf("narrow introduced %s which was not a candidate", addr)
		}
	}
}

func TestNarrowSingletonIsFixedPoint(t *testing.T) {
	img := procmem.NewImage()
	img.Map(0x1000, 0x100, "")
	img.PutInt64(0x1010, 123456)

	s := newTestScanner(img, 0)
	set := []procmem.Address{0x1010}
	for i := 0; i < 5; i++ {
		next, err := s.Narrow(context.Background(), Int64(123456), set)
		if err != nil {
			t.Fatalf("Narrow: %v", err)
		}
		if diff := cmp.Diff(set, next); diff != "" {
			t.Fatalf("iteration %d changed singleton (-want +got):\n%s", i, diff)
		}
		set = next
	}
}

func TestNarrowProcessGoneIsFatal(t *testing.T) {
	img := procmem.NewImage()
	img.Map(0x1000, 0x100, "")
	img.PutInt32(0x1010, 9)
	img.Kill()

	s := newTestScanner(img, 0)
	if _, err := s.Narrow(context.Background(), Int32(9), nil); !errors.Is(err, procmem.ErrProcessGone) {
		t.Fatalf("full scan err = %v, want ErrProcessGone", err)
	}
	if _, err := s.Narrow(context.Background(), Int32(9), []procmem.Address{0x1010}); !errors.Is(err, procmem.ErrProcessGone) {
		t.Fatalf("filter err = %v, want ErrProcessGone", err)
	}
}

func TestReadTextExtend(t *testing.T) {
	img := procmem.NewImage()
	img.Map(0x2000, 0x1000, "")
	img.PutBytes(0x2800, []byte("\x00golden helmet\x00tail"))
	addr := procmem.Address(0x2808) // "helmet"

	s := newTestScanner(img, 0)
	ctx := context.Background()

	short, err := s.Read(ctx, []procmem.Address{addr}, Text("helmet"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if short[0].Text != "helmet" {
		t.Fatalf("plain read = %q", short[0].Text)
	}

	full, err := s.Read(ctx, []procmem.Address{addr}, Text("helmet").Extended())
	if err != nil {
		t.Fatalf("Read extended: %v", err)
	}
	if full[0].Text != "golden helmet" {
		t.Fatalf("extended read = %q, want %q", full[0].Text, "golden helmet")
	}
}

func TestWriteAndReadIntegers(t *testing.T) {
	img := procmem.NewImage()
	img.Map(0x1000, 0x100, "")
	s := newTestScanner(img, 0)
	ctx := context.Background()
	addrs := []procmem.Address{0x1000, 0x1020}

	if err := s.Write(ctx, addrs, Int64(-42)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	values, err := s.Read(ctx, addrs, Int64(0))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, v := range values {
		if v.Int != -42 {
			t.Fatalf("value at %s = %d", v.Address, v.Int)
		}
	}

	if err := s.Write(ctx, []procmem.Address{0x5000}, Int32(1)); !errors.Is(err, procmem.ErrUnmapped) {
		t.Fatalf("write to unmapped err = %v", err)
	}
}

func TestFieldLifecycle(t *testing.T) {
	img := procmem.NewImage()
	img.Map(0x1000, 0x100, "")
	img.PutInt64(0x1010, 600)
	img.PutInt64(0x1040, 600)

	s := newTestScanner(img, 0)
	ctx := context.Background()
	f := NewField("first_sell", KindInt64)

	state, err := f.Narrow(ctx, s, 600)
	if err != nil || state != Narrowing || f.Len() != 2 {
		t.Fatalf("first narrow = (%s, %v, %d)", state, err, f.Len())
	}

	img.PutInt64(0x1040, 650)
	state, err = f.Narrow(ctx, s, 600)
	if err != nil || state != Locked {
		t.Fatalf("second narrow = (%s, %v)", state, err)
	}
	anchor, ok := f.Anchor()
	if !ok || anchor != 0x1010 {
		t.Fatalf("anchor = (%s, %v)", anchor, ok)
	}

	// Locked fields are never rescanned, even with a contradicting value.
	state, _ = f.Narrow(ctx, s, 1)
	if state != Locked {
		t.Fatalf("locked field changed state to %s", state)
	}

	f.Reset()
	if f.State() != Unseeded || f.Len() != 0 {
		t.Fatalf("reset left state %s with %d candidates", f.State(), f.Len())
	}

	state, _ = f.Narrow(ctx, s, 999)
	if state != Unseeded {
		t.Fatalf("narrow to nothing = %s, want unseeded", state)
	}
}
