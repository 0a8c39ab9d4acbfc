// Package registry reconciles on-disk liveness records against the actual
// OS process table. It deletes stale PID markers, repairs status documents
// that claim a dead process is running, and reclaims orphaned worker
// processes that no record accounts for.
package registry

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relaykit/relayd/internal/proctable"
	"github.com/relaykit/relayd/internal/statefile"
)

const (
	// StateDirName is the per-task directory holding a liveness record.
	StateDirName = ".relayd"
	// StateFileName is the status document inside a state directory.
	StateFileName = "daemon-state.json"
	// PIDFileName is the PID marker co-located with the status document.
	PIDFileName = "daemon.pid"

	// DefaultMaxDepth bounds the discovery walk below the project root.
	DefaultMaxDepth = 4

	// termGrace is how long a gracefully terminated orphan gets before the
	// forceful signal.
	termGrace = 500 * time.Millisecond

	repairLogSize = 64
)

// Record is one discovered liveness record: a PID marker plus a status
// document living in the same state directory.
type Record struct {
	StateFile string
	PIDFile   string
}

// Registry discovers and reconciles liveness records under a project root.
type Registry struct {
	Root     string
	MaxDepth int
	Table    proctable.Table
	// WorkerPattern matches supervised worker command lines during orphan
	// reclamation.
	WorkerPattern string
	// ServerPattern matches duplicate auxiliary relay server processes.
	ServerPattern string
	// KeepRecent bounds how many duplicate server processes survive
	// reclamation (most recently started first).
	KeepRecent int
	Log        *slog.Logger

	mu        sync.Mutex
	repairLog []string
}

// New returns a Registry with defaults applied.
func New(root string, table proctable.Table) *Registry {
	return &Registry{
		Root:       root,
		MaxDepth:   DefaultMaxDepth,
		Table:      table,
		KeepRecent: 1,
		Log:        slog.Default(),
	}
}

// Discover walks the project tree up to MaxDepth and yields every liveness
// record found, in walk order. The walk is restarted from scratch on every
// call.
func (r *Registry) Discover() ([]Record, error) {
	var out []Record
	err := r.walk(func(rec Record) bool {
		out = append(out, rec)
		return true
	})
	return out, err
}

// walk visits liveness records lazily; fn returning false stops the walk.
func (r *Registry) walk(fn func(Record) bool) error {
	root := filepath.Clean(r.Root)
	maxDepth := r.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if d.IsDir() {
			if depth(root, path) > maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != StateFileName || filepath.Base(filepath.Dir(path)) != StateDirName {
			return nil
		}
		rec := Record{
			StateFile: path,
			PIDFile:   filepath.Join(filepath.Dir(path), PIDFileName),
		}
		if !fn(rec) {
			return fs.SkipAll
		}
		return nil
	})
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// ReadPID parses the PID marker. Returns 0 when the marker is missing or
// malformed.
func ReadPID(path string) int {
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

// RecordStatus is one liveness record's externally visible state.
type RecordStatus struct {
	StateFile string `json:"stateFile"`
	PID       int    `json:"pid,omitempty"`
	Running   bool   `json:"running"`
	StartedAt string `json:"startedAt,omitempty"`
}

// Snapshot reads every discovered record's status document. Unreadable or
// malformed documents are reported with zero-value fields rather than
// skipped, so the caller still sees the record exists.
func (r *Registry) Snapshot() []RecordStatus {
	recs, err := r.Discover()
	if err != nil {
		r.Log.Warn("liveness record discovery failed", "error", err)
	}
	out := make([]RecordStatus, 0, len(recs))
	for _, rec := range recs {
		rs := RecordStatus{StateFile: rec.StateFile, PID: ReadPID(rec.PIDFile)}
		var doc struct {
			Running   bool `json:"running"`
			StartedAt any  `json:"startedAt"`
		}
		if err := statefile.Load(rec.StateFile, &doc); err == nil {
			rs.Running = doc.Running
			if s, ok := doc.StartedAt.(string); ok {
				rs.StartedAt = s
			}
		}
		out = append(out, rs)
	}
	return out
}

// KnownPIDs returns the union of all liveness-record PIDs, plus any extra
// PIDs the caller vouches for (such as the relay server's own lock owner).
func (r *Registry) KnownPIDs(extra ...int) map[int]bool {
	known := make(map[int]bool)
	for _, pid := range extra {
		if pid > 0 {
			known[pid] = true
		}
	}
	recs, err := r.Discover()
	if err != nil {
		r.Log.Warn("liveness record discovery failed", "error", err)
	}
	for _, rec := range recs {
		if pid := ReadPID(rec.PIDFile); pid > 0 {
			known[pid] = true
		}
	}
	return known
}

func (r *Registry) logRepair(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.mu.Lock()
	r.repairLog = append(r.repairLog, time.Now().Format(time.RFC3339)+" "+msg)
	if len(r.repairLog) > repairLogSize {
		r.repairLog = r.repairLog[len(r.repairLog)-repairLogSize:]
	}
	r.mu.Unlock()
	r.Log.Info("registry repair", "detail", msg)
}

// RepairLog returns a copy of the recent repair descriptions.
func (r *Registry) RepairLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.repairLog...)
}
