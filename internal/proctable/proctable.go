// Package proctable abstracts OS process-table access so that liveness
// and termination logic can be tested against a fake table.
package proctable

// Proc describes one process visible in the table.
type Proc struct {
	PID     int
	Name    string
	Cmdline string
	// StartUnix is the process start time in Unix seconds, 0 when unknown.
	StartUnix int64
}

// Table is a strategy over the OS process table.
// Implementations must be safe for concurrent use.
type Table interface {
	// Alive returns true if a process with the given pid exists.
	Alive(pid int) bool
	// Terminate sends a termination signal. When force is true the process
	// is killed without a chance to clean up.
	Terminate(pid int, force bool) error
	// List returns processes whose command line contains pattern.
	List(pattern string) ([]Proc, error)
}
