//go:build !windows

package proctable

import (
	"errors"
	"strings"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// OS is the real process table.
type OS struct{}

// Alive returns true if a process with given pid exists (or EPERM).
func (OS) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func (OS) Terminate(pid int, force bool) error {
	if pid <= 0 {
		return errors.New("invalid pid")
	}
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	err := syscall.Kill(pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil // already gone
	}
	return err
}

func (OS) List(pattern string) ([]Proc, error) {
	procs, err := gopsproc.Processes()
	if err != nil {
		return nil, err
	}
	var out []Proc
	for _, p := range procs {
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			continue
		}
		if !strings.Contains(cmdline, pattern) {
			continue
		}
		name, _ := p.Name()
		var startUnix int64
		if ms, err := p.CreateTime(); err == nil && ms > 0 {
			startUnix = ms / 1000
		}
		if startUnix == 0 {
			startUnix = procStartUnix(int(p.Pid))
		}
		out = append(out, Proc{
			PID:       int(p.Pid),
			Name:      name,
			Cmdline:   cmdline,
			StartUnix: startUnix,
		})
	}
	return out, nil
}
