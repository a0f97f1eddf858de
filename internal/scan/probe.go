// Package scan implements differential value scanning over a process's memory.
package scan

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
)

// Kind is the semantic type a probe decodes memory as.
type Kind int

const (
	KindInt32 Kind = iota + 1
	KindInt64
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindText:
		return "text"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Probe tests whether an address currently holds a wanted value. Matching is
// exact byte equality against the little-endian (or UTF-8) encoding.
type Probe struct {
	Kind Kind
	// Extend makes text reads grow past the probe width in both directions up
	// to the surrounding NUL terminators.
	Extend bool
	// Align restricts full scans to addresses that are multiples of Align.
	Align int

	pattern []byte
	display string
}

// Int32 probes for a 4-byte signed integer.
func Int32(v int32) Probe {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return Probe{Kind: KindInt32, Align: 4, pattern: b, display: strconv.FormatInt(int64(v), 10)}
}

// Int64 probes for an 8-byte signed integer. Records in the target are packed
// on 4-byte boundaries, so alignment stays at 4.
func Int64(v int64) Probe {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return Probe{Kind: KindInt64, Align: 4, pattern: b, display: strconv.FormatInt(v, 10)}
}

// Text probes for the UTF-8 bytes of s without a terminator.
func Text(s string) Probe {
	return Probe{Kind: KindText, Align: 1, pattern: []byte(s), display: strconv.Quote(s)}
}

// ForKind builds an integer probe of the given kind.
func ForKind(kind Kind, v int64) (Probe, error) {
	switch kind {
	case KindInt32:
		return Int32(int32(v)), nil
	case KindInt64:
		return Int64(v), nil
	default:
		return Probe{}, fmt.Errorf("scan: no integer probe for kind %s", kind)
	}
}

// Extended returns a copy of a text probe in extend mode.
func (p Probe) Extended() Probe {
	p.Extend = true
	return p
}

// Width is the number of bytes the probe compares.
func (p Probe) Width() int {
	return len(p.pattern)
}

// Bytes returns a copy of the encoded value.
func (p Probe) Bytes() []byte {
	out := make([]byte, len(p.pattern))
	copy(out, p.pattern)
	return out
}

// Match reports whether b starts with the encoded value.
func (p Probe) Match(b []byte) bool {
	return len(p.pattern) > 0 && len(b) >= len(p.pattern) && bytes.Equal(b[:len(p.pattern)], p.pattern)
}

func (p Probe) String() string {
	return p.Kind.String() + ":" + p.display
}

func (p Probe) align() int {
	if p.Align <= 0 {
		return 1
	}
	return p.Align
}
