package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/relaykit/relayd/internal/proctable"
	"github.com/relaykit/relayd/internal/statefile"
)

// writeRecord creates a liveness record under root/rel/.relayd and returns it.
func writeRecord(t *testing.T, root, rel string, pid int, running bool) Record {
	t.Helper()
	dir := filepath.Join(root, rel, StateDirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	rec := Record{
		StateFile: filepath.Join(dir, StateFileName),
		PIDFile:   filepath.Join(dir, PIDFileName),
	}
	doc := map[string]any{
		"running":   running,
		"pid":       pid,
		"startedAt": "2026-08-29T10:00:00Z",
		"savedAt":   "2026-08-29T10:05:00Z",
		"taskId":    rel,
	}
	if err := statefile.Save(rec.StateFile, doc); err != nil {
		t.Fatalf("save state: %v", err)
	}
	if pid > 0 {
		if err := os.WriteFile(rec.PIDFile, []byte(strconv.Itoa(pid)+"\n"), 0o600); err != nil {
			t.Fatalf("write pid: %v", err)
		}
	}
	return rec
}

func TestDiscoverDepthBound(t *testing.T) {
	root := t.TempDir()
	writeRecord(t, root, "a", 100, true)
	writeRecord(t, root, "a/b/c", 101, true)
	// .relayd at depth 5, state file at depth 6: beyond the walk bound.
	writeRecord(t, root, "a/b/c/d/e", 102, true)

	r := New(root, proctable.NewFake())
	recs, err := r.Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Discover found %d records, want 2: %v", len(recs), recs)
	}
}

func TestDiscoverIgnoresLookalikes(t *testing.T) {
	root := t.TempDir()
	writeRecord(t, root, "task", 100, true)
	// Same file name outside a state directory must not count.
	if err := os.WriteFile(filepath.Join(root, StateFileName), []byte("{}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	// State directory containing an unrelated file.
	other := filepath.Join(root, "other", StateDirName)
	if err := os.MkdirAll(other, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(other, "notes.json"), []byte("{}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := New(root, proctable.NewFake())
	recs, err := r.Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Discover found %d records, want 1", len(recs))
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PIDFileName)
	if got := ReadPID(path); got != 0 {
		t.Fatalf("missing marker = %d, want 0", got)
	}
	if err := os.WriteFile(path, []byte(" 4321 \n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := ReadPID(path); got != 4321 {
		t.Fatalf("ReadPID = %d, want 4321", got)
	}
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := ReadPID(path); got != 0 {
		t.Fatalf("malformed marker = %d, want 0", got)
	}
}

func TestReconcileStalePIDMarker(t *testing.T) {
	root := t.TempDir()
	table := proctable.NewFake(proctable.Proc{PID: 100})
	live := writeRecord(t, root, "live", 100, true)
	stale := writeRecord(t, root, "stale", 200, false)

	r := New(root, table)
	if got := r.Reconcile(); got != 1 {
		t.Fatalf("Reconcile repairs = %d, want 1", got)
	}
	if _, err := os.Stat(live.PIDFile); err != nil {
		t.Fatalf("live pid marker removed: %v", err)
	}
	if _, err := os.Stat(stale.PIDFile); !os.IsNotExist(err) {
		t.Fatalf("stale pid marker survived: %v", err)
	}
}

func TestReconcileZombieState(t *testing.T) {
	root := t.TempDir()
	table := proctable.NewFake()
	rec := writeRecord(t, root, "task", 300, true)

	r := New(root, table)
	// Marker removal plus zombie repair on the same record count once.
	if got := r.Reconcile(); got != 1 {
		t.Fatalf("Reconcile repairs = %d, want 1", got)
	}

	var doc map[string]any
	if err := statefile.Load(rec.StateFile, &doc); err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc["running"] != false {
		t.Fatalf("running = %v, want false", doc["running"])
	}
	if doc["startedAt"] != nil || doc["savedAt"] != nil {
		t.Fatalf("timestamps not cleared: %v", doc)
	}
	// Unrelated fields written by the record's owner survive.
	if doc["taskId"] != "task" {
		t.Fatalf("owner fields lost: %v", doc)
	}

	// Second pass finds nothing to repair.
	if got := r.Reconcile(); got != 0 {
		t.Fatalf("second Reconcile repairs = %d, want 0", got)
	}
}

func TestReconcileLeavesLiveRecordAlone(t *testing.T) {
	root := t.TempDir()
	table := proctable.NewFake(proctable.Proc{PID: 400})
	rec := writeRecord(t, root, "task", 400, true)

	r := New(root, table)
	if got := r.Reconcile(); got != 0 {
		t.Fatalf("Reconcile repairs = %d, want 0", got)
	}
	var doc map[string]any
	if err := statefile.Load(rec.StateFile, &doc); err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc["running"] != true {
		t.Fatalf("live record rewritten: %v", doc)
	}
}

func TestReconcileToleratesCorruptState(t *testing.T) {
	root := t.TempDir()
	rec := writeRecord(t, root, "task", 0, false)
	if err := os.WriteFile(rec.StateFile, []byte("{broken"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := New(root, proctable.NewFake())
	if got := r.Reconcile(); got != 0 {
		t.Fatalf("Reconcile repairs = %d, want 0", got)
	}
	// The corrupt document is left for its owner to rewrite.
	b, err := os.ReadFile(rec.StateFile)
	if err != nil || string(b) != "{broken" {
		t.Fatalf("corrupt document altered: %q %v", b, err)
	}
}

func TestKnownPIDs(t *testing.T) {
	root := t.TempDir()
	writeRecord(t, root, "a", 100, true)
	writeRecord(t, root, "b", 200, true)
	r := New(root, proctable.NewFake())
	known := r.KnownPIDs(999, 0, -5)
	for _, pid := range []int{100, 200, 999} {
		if !known[pid] {
			t.Fatalf("pid %d missing from %v", pid, known)
		}
	}
	if len(known) != 3 {
		t.Fatalf("known = %v, want exactly 3 entries", known)
	}
}

func TestReclaimOrphans(t *testing.T) {
	root := t.TempDir()
	writeRecord(t, root, "a", 100, true)
	table := proctable.NewFake(
		proctable.Proc{PID: 100, Name: "worker", Cmdline: "worker --serve"},
		proctable.Proc{PID: 500, Name: "worker", Cmdline: "worker --serve"},
		proctable.Proc{PID: 600, Name: "other", Cmdline: "unrelated"},
	)
	r := New(root, table)
	r.WorkerPattern = "worker"

	reclaimed := r.ReclaimOrphans(r.KnownPIDs())
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}
	if table.Alive(500) {
		t.Fatalf("orphan 500 still alive")
	}
	if !table.Alive(100) || !table.Alive(600) {
		t.Fatalf("known or unrelated process terminated")
	}
}

func TestReclaimEscalatesToKill(t *testing.T) {
	root := t.TempDir()
	table := proctable.NewFake(proctable.Proc{PID: 700, Name: "worker", Cmdline: "worker"})
	table.SurviveTerm[700] = true
	r := New(root, table)
	r.WorkerPattern = "worker"

	if got := r.ReclaimOrphans(map[int]bool{}); got != 1 {
		t.Fatalf("reclaimed = %d, want 1", got)
	}
	if len(table.Killed()) != 1 || table.Killed()[0] != 700 {
		t.Fatalf("expected force kill of 700, got %v", table.Killed())
	}
}

func TestTrimDuplicateServers(t *testing.T) {
	root := t.TempDir()
	table := proctable.NewFake(
		proctable.Proc{PID: 10, Name: "relayd", Cmdline: "relayd serve", StartUnix: 1000},
		proctable.Proc{PID: 11, Name: "relayd", Cmdline: "relayd serve", StartUnix: 3000},
		proctable.Proc{PID: 12, Name: "relayd", Cmdline: "relayd serve", StartUnix: 2000},
	)
	r := New(root, table)
	r.ServerPattern = "relayd serve"
	r.KeepRecent = 1

	if got := r.ReclaimOrphans(map[int]bool{}); got != 2 {
		t.Fatalf("trimmed = %d, want 2", got)
	}
	// The most recently started server survives.
	if !table.Alive(11) {
		t.Fatalf("newest server trimmed")
	}
	if table.Alive(10) || table.Alive(12) {
		t.Fatalf("older duplicates survived")
	}
}

func TestRepairLogBounded(t *testing.T) {
	r := New(t.TempDir(), proctable.NewFake())
	for i := 0; i < repairLogSize+10; i++ {
		r.logRepair("repair %d", i)
	}
	log := r.RepairLog()
	if len(log) != repairLogSize {
		t.Fatalf("repair log length = %d, want %d", len(log), repairLogSize)
	}
}

func TestSnapshot(t *testing.T) {
	root := t.TempDir()
	writeRecord(t, root, "a", 42, true)
	writeRecord(t, root, "b", 0, false)
	// Malformed documents still show up, with zero-value fields.
	broken := writeRecord(t, root, "c", 7, true)
	if err := os.WriteFile(broken.StateFile, []byte("not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := New(root, proctable.NewFake())
	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
	byPID := make(map[int]RecordStatus)
	for _, rs := range snap {
		byPID[rs.PID] = rs
	}
	if rs := byPID[42]; !rs.Running || rs.StartedAt != "2026-08-29T10:00:00Z" {
		t.Fatalf("record a = %+v", rs)
	}
	if rs := byPID[0]; rs.Running {
		t.Fatalf("record b = %+v", rs)
	}
	if rs := byPID[7]; rs.Running || rs.StartedAt != "" {
		t.Fatalf("record c = %+v", rs)
	}
}

func TestRecordDocumentShape(t *testing.T) {
	// The status document keeps arbitrary owner fields round-trippable.
	root := t.TempDir()
	rec := writeRecord(t, root, "task", 0, false)
	b, err := os.ReadFile(rec.StateFile)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["taskId"] != "task" {
		t.Fatalf("doc = %v", doc)
	}
}
