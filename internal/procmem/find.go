package procmem

import (
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// FindPID returns the pid of the first running process whose executable name
// equals name (case-insensitive).
func FindPID(name string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("procmem: process name is empty")
	}

	procs, err := process.Processes()
	if err != nil {
		return 0, fmt.Errorf("procmem: list processes: %w", err)
	}
	for _, p := range procs {
		pname, err := p.Name()
		if err != nil {
			continue
		}
		if strings.EqualFold(pname, name) {
			return int(p.Pid), nil
		}
	}
	return 0, fmt.Errorf("procmem: no process named %q", name)
}

// Alive reports whether pid is still running.
func Alive(pid int) (bool, error) {
	return process.PidExists(int32(pid))
}
