package relay

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/relaykit/relayd/internal/proctable"
)

// ErrAlreadyRunning reports that a live relay server already holds the
// lock. This is not a failure: the caller should exit with success status
// and leave the running instance alone.
var ErrAlreadyRunning = errors.New("relay server already running")

// Lock is the filesystem singleton token: a file containing the owner PID.
// A lock whose recorded owner is dead is stale and reclaimed on the next
// startup attempt.
type Lock struct {
	Path  string
	owner int
}

// AcquireLock atomically creates the lock file with the current PID. When
// the file already exists, the recorded owner decides: alive means
// ErrAlreadyRunning, dead means the stale lock is overwritten and acquired.
func AcquireLock(path string, table proctable.Table) (*Lock, error) {
	self := os.Getpid()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		_, werr := f.WriteString(strconv.Itoa(self))
		cerr := f.Close()
		if werr != nil || cerr != nil {
			_ = os.Remove(path)
			return nil, fmt.Errorf("write lock %s: %w", path, errors.Join(werr, cerr))
		}
		return &Lock{Path: path, owner: self}, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create lock %s: %w", path, err)
	}

	owner := ReadLockOwner(path)
	if owner > 0 && table.Alive(owner) {
		return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, owner)
	}
	// Stale lock: owner is gone, reclaim by overwriting.
	if err := os.WriteFile(path, []byte(strconv.Itoa(self)), 0o644); err != nil {
		return nil, fmt.Errorf("reclaim stale lock %s: %w", path, err)
	}
	return &Lock{Path: path, owner: self}, nil
}

// ReadLockOwner returns the PID recorded in the lock file, 0 when the file
// is missing or malformed.
func ReadLockOwner(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// Release removes the lock file, but only while this process still owns it.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	if ReadLockOwner(l.Path) == l.owner {
		_ = os.Remove(l.Path)
	}
}
