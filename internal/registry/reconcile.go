package registry

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/relaykit/relayd/internal/metrics"
	"github.com/relaykit/relayd/internal/proctable"
	"github.com/relaykit/relayd/internal/statefile"
)

// Reconcile restores the liveness invariant across all discovered records:
// PID markers whose process is gone are deleted, and status documents that
// claim running=true for a dead process are rewritten to running=false with
// their timestamp fields cleared. Returns the number of repairs made.
// Failures are logged and skipped; reconciliation never fails the caller.
func (r *Registry) Reconcile() int {
	recs, err := r.Discover()
	if err != nil {
		r.Log.Warn("liveness record discovery failed", "error", err)
	}
	repairs := 0
	for _, rec := range recs {
		if r.repairRecord(rec) {
			repairs++
		}
	}
	metrics.AddRegistryRepairs(repairs)
	return repairs
}

// repairRecord fixes one liveness record. Returns true when anything was
// repaired.
func (r *Registry) repairRecord(rec Record) bool {
	repaired := false

	pid := ReadPID(rec.PIDFile)
	pidAlive := pid > 0 && r.Table.Alive(pid)

	// Stale PID marker: PID recorded but the process is gone.
	if _, err := os.Stat(rec.PIDFile); err == nil && !pidAlive {
		if err := os.Remove(rec.PIDFile); err != nil {
			r.Log.Warn("stale pid marker removal failed", "path", rec.PIDFile, "error", err)
		} else {
			r.logRepair("removed stale pid marker %s (pid %d)", rec.PIDFile, pid)
			repaired = true
		}
	}

	// Zombie status document: running=true but no live process behind it.
	// The document has an external writer, so re-read right before writing
	// and only touch the fields being repaired.
	if pidAlive {
		return repaired
	}
	zombie := false
	err := statefile.Update(rec.StateFile, func(raw []byte) (any, error) {
		zombie = false // re-read may race an external writer
		if raw == nil {
			return nil, nil
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		running, _ := doc["running"].(bool)
		if !running {
			return nil, nil // nothing to repair
		}
		doc["running"] = false
		doc["startedAt"] = nil
		doc["savedAt"] = nil
		zombie = true
		return doc, nil
	})
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.Log.Warn("zombie state repair failed", "path", rec.StateFile, "error", err)
		}
		return repaired
	}
	if zombie {
		r.logRepair("cleared zombie state %s", rec.StateFile)
		repaired = true
	}
	return repaired
}

// ReclaimOrphans terminates supervised worker processes whose PID appears
// in no liveness record, and trims duplicate auxiliary server processes
// down to the KeepRecent most recently started. knownPids is the union of
// record PIDs and the relay server's own PID.
func (r *Registry) ReclaimOrphans(knownPids map[int]bool) int {
	reclaimed := 0
	if r.WorkerPattern != "" {
		procs, err := r.Table.List(r.WorkerPattern)
		if err != nil {
			r.Log.Warn("orphan scan failed", "pattern", r.WorkerPattern, "error", err)
		} else {
			for _, p := range procs {
				if knownPids[p.PID] || p.PID == os.Getpid() {
					continue
				}
				r.terminateOrphan(p)
				reclaimed++
			}
		}
	}
	reclaimed += r.trimDuplicateServers(knownPids)
	return reclaimed
}

// trimDuplicateServers keeps only the KeepRecent most recently started
// auxiliary server processes. Start order uses process create time when the
// platform reports it, PID ordering otherwise.
func (r *Registry) trimDuplicateServers(knownPids map[int]bool) int {
	if r.ServerPattern == "" {
		return 0
	}
	procs, err := r.Table.List(r.ServerPattern)
	if err != nil {
		r.Log.Warn("duplicate server scan failed", "pattern", r.ServerPattern, "error", err)
		return 0
	}
	var candidates []proctable.Proc
	for _, p := range procs {
		if p.PID == os.Getpid() || knownPids[p.PID] {
			continue
		}
		candidates = append(candidates, p)
	}
	keep := r.KeepRecent
	if keep < 0 {
		keep = 0
	}
	if len(candidates) <= keep {
		return 0
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.StartUnix != b.StartUnix {
			return a.StartUnix > b.StartUnix
		}
		return a.PID > b.PID
	})
	trimmed := 0
	for _, p := range candidates[keep:] {
		r.terminateOrphan(p)
		trimmed++
	}
	return trimmed
}

func (r *Registry) terminateOrphan(p proctable.Proc) {
	if err := r.Table.Terminate(p.PID, false); err != nil {
		r.Log.Warn("orphan terminate failed", "pid", p.PID, "error", err)
		return
	}
	deadline := time.Now().Add(termGrace)
	for time.Now().Before(deadline) {
		if !r.Table.Alive(p.PID) {
			r.logRepair("reclaimed orphan pid %d (%s)", p.PID, p.Name)
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := r.Table.Terminate(p.PID, true); err != nil {
		r.Log.Warn("orphan kill failed", "pid", p.PID, "error", err)
		return
	}
	r.logRepair("force-killed orphan pid %d (%s)", p.PID, p.Name)
}
