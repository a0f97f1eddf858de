//go:build !linux

package procmem

// Process is unavailable off linux.
type Process struct {
	pid int
}

// Open always fails with ErrUnsupported on this platform.
func Open(pid int) (*Process, error) {
	return nil, ErrUnsupported
}

func (p *Process) Pid() int { return p.pid }

func (p *Process) ReadAt(buf []byte, addr Address) (int, error) { return 0, ErrUnsupported }

func (p *Process) WriteAt(buf []byte, addr Address) (int, error) { return 0, ErrUnsupported }

func (p *Process) Regions() ([]Region, error) { return nil, ErrUnsupported }

func (p *Process) Close() error { return nil }

var _ Memory = (*Process)(nil)
