package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaykit/relayd/internal/history"
)

type fakeStore struct {
	mu      sync.Mutex
	records []history.Record
	closed  bool
}

func (f *fakeStore) EnsureSchema(context.Context) error { return nil }

func (f *fakeStore) Append(_ context.Context, rec history.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) Recent(_ context.Context, limit int) ([]history.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]history.Record(nil), f.records...), nil
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestHistorySinkFlushOnClose(t *testing.T) {
	store := &fakeStore{}
	sink := newHistorySink(store, testLogger())
	for i := 0; i < 10; i++ {
		sink.record(history.Record{At: time.Now(), Args: "x", OK: true, Path: history.PathPersistent})
	}
	sink.close()
	sink.close() // idempotent

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.records) != 10 {
		t.Fatalf("flushed %d records, want 10", len(store.records))
	}
	if !store.closed {
		t.Fatalf("store not closed")
	}
}

func TestServerRecordsHistory(t *testing.T) {
	store := &fakeStore{}
	srv := newTestServer(t, "echo", nil)
	srv.sink = newHistorySink(store, testLogger())
	h := srv.Handler()

	postHook(t, h, `{"args":["hello"]}`)
	srv.Close()

	recs, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("recorded %d entries, want 1", len(recs))
	}
	rec := recs[0]
	if !rec.OK || rec.Path != history.PathSpawn || rec.Args != "hello" {
		t.Fatalf("record = %+v", rec)
	}
}
