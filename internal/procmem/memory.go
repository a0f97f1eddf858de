// Package procmem gives bounded access to the address space of another process.
package procmem

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProcessGone is returned once the target process has exited or its handle became invalid.
	ErrProcessGone = errors.New("procmem: target process gone")

	// ErrUnmapped is returned when a range is not (or no longer) backed by a mapping in the target.
	ErrUnmapped = errors.New("procmem: address not mapped")

	// ErrUnsupported is returned on platforms without a process memory backend.
	ErrUnsupported = errors.New("procmem: platform not supported")
)

// Address is an offset into the target process's address space.
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// Add offsets the address by a signed delta.
func (a Address) Add(delta int64) Address {
	return Address(int64(a) + delta)
}

// Perms mirrors the permission column of a memory map entry.
type Perms struct {
	Read    bool
	Write   bool
	Execute bool
	Shared  bool
}

// Region is one contiguous mapping [Start, End) of the target.
type Region struct {
	Start Address
	End   Address
	Perms Perms
	Path  string
}

// Size returns the region length in bytes.
func (r Region) Size() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return uint64(r.End - r.Start)
}

// Contains reports whether addr lies inside the region.
func (r Region) Contains(addr Address) bool {
	return addr >= r.Start && addr < r.End
}

// Memory is the process handle shared by every scanner. Implementations are
// not safe for concurrent use; callers serialise access.
type Memory interface {
	// ReadAt fills p from the target starting at addr. A short read returns the
	// number of bytes copied together with ErrUnmapped.
	ReadAt(p []byte, addr Address) (int, error)
	// WriteAt copies p into the target starting at addr.
	WriteAt(p []byte, addr Address) (int, error)
	// Regions lists the current memory map of the target.
	Regions() ([]Region, error)
}

// DataRegion reports whether a region may hold live heap data worth scanning:
// readable, writable, private and not backed by a file or a kernel page.
func DataRegion(r Region) bool {
	if !r.Perms.Read || !r.Perms.Write || r.Perms.Shared {
		return false
	}
	switch {
	case r.Path == "", r.Path == "[heap]", r.Path == "[stack]":
		return true
	case strings.HasPrefix(r.Path, "[anon"), strings.HasPrefix(r.Path, "[stack:"):
		return true
	default:
		return false
	}
}
