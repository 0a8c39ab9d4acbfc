// Package history persists a best-effort audit trail of relayed calls.
// Writes never block or fail the request path; a broken backend is logged
// and skipped.
package history

import (
	"context"
	"time"
)

// Execution path labels.
const (
	PathPersistent = "persistent"
	PathSpawn      = "spawn"
)

// Record is one relayed call.
type Record struct {
	At        time.Time `json:"at"`
	Args      string    `json:"args"`
	OK        bool      `json:"ok"`
	LatencyMs int64     `json:"latency_ms"`
	Path      string    `json:"path"`
}

// Store is a destination for call records.
// Implementations must be safe for concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Append(ctx context.Context, rec Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
