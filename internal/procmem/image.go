package procmem

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Image is an in-memory address space that satisfies Memory. It backs replay
// and calibration dry runs as well as tests.
type Image struct {
	segments []*segment
	gone     bool
}

type segment struct {
	region Region
	data   []byte
}

// NewImage returns an empty address space.
func NewImage() *Image {
	return &Image{}
}

// Map adds a zero-filled private read/write mapping of size bytes at start.
func (m *Image) Map(start Address, size int, path string) {
	m.MapRegion(Region{
		Start: start,
		End:   start + Address(size),
		Perms: Perms{Read: true, Write: true},
		Path:  path,
	})
}

// MapRegion adds a zero-filled mapping with explicit permissions.
func (m *Image) MapRegion(r Region) {
	m.segments = append(m.segments, &segment{region: r, data: make([]byte, r.Size())})
	sort.Slice(m.segments, func(i, j int) bool {
		return m.segments[i].region.Start < m.segments[j].region.Start
	})
}

// Kill makes every later access fail with ErrProcessGone.
func (m *Image) Kill() {
	m.gone = true
}

// PutBytes copies b to addr. It panics when the range is not mapped.
func (m *Image) PutBytes(addr Address, b []byte) {
	seg := m.find(addr)
	if seg == nil || addr+Address(len(b)) > seg.region.End {
		panic(fmt.Sprintf("procmem: image put outside mapping at %s", addr))
	}
	copy(seg.data[addr-seg.region.Start:], b)
}

// PutInt64 stores v little-endian at addr.
func (m *Image) PutInt64(addr Address, v int64) {
	m.PutUint64(addr, uint64(v))
}

// PutUint64 stores v little-endian at addr.
func (m *Image) PutUint64(addr Address, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	m.PutBytes(addr, b[:])
}

// PutInt32 stores v little-endian at addr.
func (m *Image) PutInt32(addr Address, v int32) {
	m.PutUint32(addr, uint32(v))
}

// PutUint32 stores v little-endian at addr.
func (m *Image) PutUint32(addr Address, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	m.PutBytes(addr, b[:])
}

// ReadAt implements Memory.
func (m *Image) ReadAt(p []byte, addr Address) (int, error) {
	if m.gone {
		return 0, ErrProcessGone
	}
	seg := m.find(addr)
	if seg == nil {
		return 0, ErrUnmapped
	}
	n := copy(p, seg.data[addr-seg.region.Start:])
	if n < len(p) {
		return n, ErrUnmapped
	}
	return n, nil
}

// WriteAt implements Memory.
func (m *Image) WriteAt(p []byte, addr Address) (int, error) {
	if m.gone {
		return 0, ErrProcessGone
	}
	seg := m.find(addr)
	if seg == nil {
		return 0, ErrUnmapped
	}
	n := copy(seg.data[addr-seg.region.Start:], p)
	if n < len(p) {
		return n, ErrUnmapped
	}
	return n, nil
}

// Regions implements Memory.
func (m *Image) Regions() ([]Region, error) {
	if m.gone {
		return nil, ErrProcessGone
	}
	out := make([]Region, len(m.segments))
	for i, seg := range m.segments {
		out[i] = seg.region
	}
	return out, nil
}

func (m *Image) find(addr Address) *segment {
	for _, seg := range m.segments {
		if seg.region.Contains(addr) {
			return seg
		}
	}
	return nil
}

var _ Memory = (*Image)(nil)
