package proctable

import (
	"errors"
	"strings"
	"sync"
)

// Fake is an in-memory process table for tests.
type Fake struct {
	mu         sync.Mutex
	procs      map[int]Proc
	terminated []int
	killed     []int
	// SurviveTerm lists PIDs that ignore a graceful terminate.
	SurviveTerm map[int]bool
}

func NewFake(procs ...Proc) *Fake {
	f := &Fake{procs: make(map[int]Proc), SurviveTerm: make(map[int]bool)}
	for _, p := range procs {
		f.procs[p.PID] = p
	}
	return f
}

func (f *Fake) Add(p Proc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[p.PID] = p
}

func (f *Fake) Remove(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.procs, pid)
}

func (f *Fake) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.procs[pid]
	return ok
}

func (f *Fake) Terminate(pid int, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.procs[pid]; !ok {
		return nil
	}
	if force {
		f.killed = append(f.killed, pid)
		delete(f.procs, pid)
		return nil
	}
	f.terminated = append(f.terminated, pid)
	if !f.SurviveTerm[pid] {
		delete(f.procs, pid)
	}
	return nil
}

func (f *Fake) List(pattern string) ([]Proc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.procs == nil {
		return nil, errors.New("no process table")
	}
	var out []Proc
	for _, p := range f.procs {
		if pattern == "" || strings.Contains(p.Cmdline, pattern) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Terminated returns PIDs that received a graceful terminate.
func (f *Fake) Terminated() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.terminated...)
}

// Killed returns PIDs that received a forceful terminate.
func (f *Fake) Killed() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.killed...)
}
