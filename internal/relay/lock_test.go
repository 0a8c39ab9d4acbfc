package relay

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/relaykit/relayd/internal/proctable"
)

func TestAcquireLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.pid")
	lock, err := AcquireLock(path, proctable.NewFake())
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if got := ReadLockOwner(path); got != os.Getpid() {
		t.Fatalf("owner = %d, want %d", got, os.Getpid())
	}
	lock.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock file survived release: %v", err)
	}
}

func TestAcquireLockContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.pid")
	table := proctable.NewFake(proctable.Proc{PID: 12345})
	if err := os.WriteFile(path, []byte("12345"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := AcquireLock(path, table)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("AcquireLock = %v, want ErrAlreadyRunning", err)
	}
	// The live owner's lock is untouched.
	if got := ReadLockOwner(path); got != 12345 {
		t.Fatalf("owner = %d, want 12345", got)
	}
}

func TestAcquireLockReclaimsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.pid")
	if err := os.WriteFile(path, []byte("99999"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	lock, err := AcquireLock(path, proctable.NewFake())
	if err != nil {
		t.Fatalf("AcquireLock over stale lock: %v", err)
	}
	defer lock.Release()
	if got := ReadLockOwner(path); got != os.Getpid() {
		t.Fatalf("owner = %d, want %d", got, os.Getpid())
	}
}

func TestReleaseRespectsNewOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.pid")
	lock, err := AcquireLock(path, proctable.NewFake())
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	// Another process overwrote the lock; release must not remove it.
	if err := os.WriteFile(path, []byte("424242"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	lock.Release()
	if got := ReadLockOwner(path); got != 424242 {
		t.Fatalf("owner = %d, want 424242", got)
	}
}

func TestReadLockOwnerMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.pid")
	if got := ReadLockOwner(path); got != 0 {
		t.Fatalf("missing lock owner = %d, want 0", got)
	}
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := ReadLockOwner(path); got != 0 {
		t.Fatalf("malformed lock owner = %d, want 0", got)
	}
	if err := os.WriteFile(path, []byte(" "+strconv.Itoa(7)+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := ReadLockOwner(path); got != 7 {
		t.Fatalf("owner = %d, want 7", got)
	}
}
