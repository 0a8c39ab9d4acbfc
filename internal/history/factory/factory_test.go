package factory

import (
	"path/filepath"
	"testing"

	sq "github.com/relaykit/relayd/internal/history/sqlite"
)

func TestNewFromDSN(t *testing.T) {
	if _, err := NewFromDSN(""); err == nil {
		t.Fatalf("empty DSN accepted")
	}

	dir := t.TempDir()
	for _, dsn := range []string{
		filepath.Join(dir, "a.db"),
		"sqlite://" + filepath.Join(dir, "b.db"),
	} {
		store, err := NewFromDSN(dsn)
		if err != nil {
			t.Fatalf("NewFromDSN(%q): %v", dsn, err)
		}
		if _, ok := store.(*sq.DB); !ok {
			t.Fatalf("NewFromDSN(%q) = %T, want *sqlite.DB", dsn, store)
		}
		_ = store.Close()
	}
}
