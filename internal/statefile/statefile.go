// Package statefile provides atomic read-modify-write access to small JSON
// documents that are shared, best-effort state: other processes may write
// them concurrently and no lock protocol exists beyond re-reading before
// each write.
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotExist reports a missing document.
var ErrNotExist = os.ErrNotExist

// Load reads the JSON document at path into v.
func Load(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Save writes v to path atomically: temp file in the same directory, fsync,
// rename. The parent directory is created when missing.
func Save(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return writeAtomic(path, b)
}

// Update applies mutate to the current document contents and writes the
// result back. The document is re-read immediately before the write so a
// concurrent external writer wins everything except the fields mutate
// touches. raw is nil when the document does not exist yet.
func Update(path string, mutate func(raw []byte) (any, error)) error {
	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	next, err := mutate(raw)
	if err != nil {
		return err
	}
	if next == nil {
		return nil // mutate declined to write
	}
	return Save(path, next)
}

func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".relayd-tmp-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
