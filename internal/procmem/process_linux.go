//go:build linux

package procmem

import (
	"errors"
	"fmt"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// Process reads and writes a live process through process_vm_readv/writev.
type Process struct {
	pid  int
	proc procfs.Proc
}

// Open attaches to pid. The caller needs ptrace permission over the target
// (same user with ptrace_scope 0, or CAP_SYS_PTRACE).
func Open(pid int) (*Process, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("procmem: invalid pid %d", pid)
	}
	alive, err := Alive(pid)
	if err != nil {
		return nil, fmt.Errorf("procmem: check pid %d: %w", pid, err)
	}
	if !alive {
		return nil, ErrProcessGone
	}

	proc, err := procfs.NewProc(pid)
	if err != nil {
		return nil, fmt.Errorf("procmem: open /proc/%d: %w", pid, err)
	}
	return &Process{pid: pid, proc: proc}, nil
}

// Pid returns the attached process id.
func (p *Process) Pid() int {
	return p.pid
}

// ReadAt implements Memory.
func (p *Process) ReadAt(buf []byte, addr Address) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}

	n, err := unix.ProcessVMReadv(p.pid, local, remote, 0)
	if err != nil {
		return 0, p.mapErr(err)
	}
	if n < len(buf) {
		return n, ErrUnmapped
	}
	return n, nil
}

// WriteAt implements Memory.
func (p *Process) WriteAt(buf []byte, addr Address) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}

	n, err := unix.ProcessVMWritev(p.pid, local, remote, 0)
	if err != nil {
		return 0, p.mapErr(err)
	}
	if n < len(buf) {
		return n, ErrUnmapped
	}
	return n, nil
}

// Regions implements Memory.
func (p *Process) Regions() ([]Region, error) {
	maps, err := p.proc.ProcMaps()
	if err != nil {
		if alive, _ := Alive(p.pid); !alive {
			return nil, ErrProcessGone
		}
		return nil, fmt.Errorf("procmem: read maps of %d: %w", p.pid, err)
	}

	regions := make([]Region, 0, len(maps))
	for _, m := range maps {
		r := Region{
			Start: Address(m.StartAddr),
			End:   Address(m.EndAddr),
			Path:  m.Pathname,
		}
		if m.Perms != nil {
			r.Perms = Perms{Read: m.Perms.Read, Write: m.Perms.Write, Execute: m.Perms.Execute, Shared: m.Perms.Shared}
		}
		regions = append(regions, r)
	}
	return regions, nil
}

// Close releases the handle. process_vm_* needs no descriptor, so this only
// exists to satisfy io.Closer for callers.
func (p *Process) Close() error {
	return nil
}

func (p *Process) mapErr(err error) error {
	switch {
	case errors.Is(err, unix.ESRCH):
		return ErrProcessGone
	case errors.Is(err, unix.EFAULT), errors.Is(err, unix.EIO):
		return ErrUnmapped
	case errors.Is(err, unix.EPERM):
		return fmt.Errorf("procmem: access to pid %d denied (ptrace permission): %w", p.pid, err)
	default:
		return fmt.Errorf("procmem: pid %d: %w", p.pid, err)
	}
}

var _ Memory = (*Process)(nil)
