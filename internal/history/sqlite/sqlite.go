package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/relaykit/relayd/internal/history"
)

// DB implements history.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_history(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TIMESTAMP NOT NULL,
			args TEXT NOT NULL,
			ok BOOLEAN NOT NULL,
			latency_ms INTEGER NOT NULL,
			path TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_history_at ON call_history(at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Append(ctx context.Context, rec history.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_history(at, args, ok, latency_ms, path)
		VALUES(?, ?, ?, ?, ?);`,
		rec.At.UTC(), rec.Args, rec.OK, rec.LatencyMs, rec.Path)
	return err
}

func (s *DB) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT at, args, ok, latency_ms, path
		FROM call_history ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []history.Record
	for rows.Next() {
		var rec history.Record
		if err := rows.Scan(&rec.At, &rec.Args, &rec.OK, &rec.LatencyMs, &rec.Path); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *DB) Close() error { return s.db.Close() }
