package procmem

import (
	"errors"
	"testing"
)

func TestDataRegion(t *testing.T) {
	rw := Perms{Read: true, Write: true}
	cases := []struct {
		name   string
		region Region
		want   bool
	}{
		{"anonymous", Region{Perms: rw}, true},
		{"heap", Region{Perms: rw, Path: "[heap]"}, true},
		{"stack", Region{Perms: rw, Path: "[stack]"}, true},
		{"named anon", Region{Perms: rw, Path: "[anon:scudo:primary]"}, true},
		{"read only", Region{Perms: Perms{Read: true}}, false},
		{"shared", Region{Perms: Perms{Read: true, Write: true, Shared: true}}, false},
		{"file backed", Region{Perms: rw, Path: "/usr/lib/libc.so.6"}, false},
		{"vvar", Region{Perms: rw, Path: "[vvar]"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DataRegion(tc.region); got != tc.want {
				t.Fatalf("DataRegion(%+v) = %v, want %v", tc.region, got, tc.want)
			}
		})
	}
}

func TestImageReadWrite(t *testing.T) {
	img := NewImage()
	img.Map(0x1000, 0x100, "")
	img.PutInt64(0x1010, 500)

	buf := make([]byte, 8)
	if _, err := img.ReadAt(buf, 0x1010); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if buf[0] != 0xF4 || buf[1] != 0x01 {
		t.Fatalf("unexpected bytes %x", buf)
	}

	n, err := img.ReadAt(make([]byte, 16), 0x10F8)
	if !errors.Is(err, ErrUnmapped) || n != 8 {
		t.Fatalf("short read = (%d, %v), want (8, ErrUnmapped)", n, err)
	}

	if _, err := img.ReadAt(buf, 0x5000); !errors.Is(err, ErrUnmapped) {
		t.Fatalf("unmapped read err = %v", err)
	}

	img.Kill()
	if _, err := img.ReadAt(buf, 0x1010); !errors.Is(err, ErrProcessGone) {
		t.Fatalf("read after kill err = %v", err)
	}
	if _, err := img.Regions(); !errors.Is(err, ErrProcessGone) {
		t.Fatalf("regions after kill err = %v", err)
	}
}

func TestAddressAdd(t *testing.T) {
	a := Address(0x100)
	if got := a.Add(-0x10); got != 0xF0 {
		t.Fatalf("Add(-0x10) = %s", got)
	}
	if a.String() != "0x100" {
		t.Fatalf("String() = %s", a.String())
	}
}
