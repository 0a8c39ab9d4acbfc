// Package scheduler tracks which upstream providers are temporarily
// blocked (rate limits, exhausted quota) and resolves the best usable
// provider for a task category from per-category preference chains.
package scheduler

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/relaykit/relayd/internal/metrics"
	"github.com/relaykit/relayd/internal/statefile"
)

// DefaultBlockMinutes is used when no explicit duration is given,
// e.g. by rate-limit detection.
const DefaultBlockMinutes = 30

// Scheduler is a state machine over the persisted provider document.
// All reads that affect a caller-visible decision run auto-unblock first,
// so expired blocks are never observable.
type Scheduler struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
	log  *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock injects a clock, used by tests to simulate block expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New returns a Scheduler persisting its document at path.
func New(path string, opts ...Option) *Scheduler {
	s := &Scheduler{path: path, now: time.Now, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Initialize creates the persisted document with defaults when it does not
// exist yet. Idempotent.
func (s *Scheduler) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var doc Document
	err := statefile.Load(s.path, &doc)
	if err == nil && len(doc.Models) > 0 {
		return nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("scheduler state unreadable, rewriting defaults", "path", s.path, "error", err)
	}
	return statefile.Save(s.path, defaultDocument())
}

// Reset discards the persisted document and re-initializes it.
func (s *Scheduler) Reset() error {
	s.mu.Lock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.Initialize()
}

// load returns the current document, falling back to in-memory defaults
// when the file is missing or corrupt. Callers of reads must always get a
// usable answer; persistence failures are logged, never surfaced.
func (s *Scheduler) load() *Document {
	var doc Document
	if err := statefile.Load(s.path, &doc); err != nil || len(doc.Models) == 0 {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("scheduler state load failed, using defaults", "error", err)
		}
		return defaultDocument()
	}
	return &doc
}

// save persists the document, logging and swallowing write failures.
func (s *Scheduler) save(doc *Document) {
	if err := statefile.Save(s.path, doc); err != nil {
		s.log.Warn("scheduler state write failed, skipping", "error", err)
	}
}

// autoUnblock flips expired blocks back to available. Returns true when
// anything changed.
func (s *Scheduler) autoUnblock(doc *Document) bool {
	now := s.now().Unix()
	changed := false
	for name, p := range doc.Models {
		if !p.Available && p.BlockedUntil > 0 && p.BlockedUntil <= now {
			p.Available = true
			p.BlockedUntil = 0
			changed = true
			s.log.Info("provider auto-unblocked", "provider", name)
		}
	}
	return changed
}

// GetBestProvider resolves the first available provider in the chain for
// category. When every provider in the chain is blocked it returns the
// last chain element with degraded=true: something beats nothing, and the
// caller can tell the two cases apart.
func (s *Scheduler) GetBestProvider(category string) (name string, degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.load()
	if s.autoUnblock(doc) {
		s.save(doc)
	}
	chain := doc.chain(category)
	for _, candidate := range chain {
		if p, ok := doc.Models[candidate]; ok && p.Available {
			return candidate, false
		}
	}
	if len(chain) == 0 {
		return Terminal, true
	}
	s.log.Warn("all providers in chain blocked, degrading", "category", category, "provider", chain[len(chain)-1])
	return chain[len(chain)-1], true
}

// BlockProvider marks name unavailable for the given number of minutes and
// returns the provider to use instead: the configured fallback when it is
// itself available, otherwise the terminal provider. Unknown names are a
// no-op that still reports the terminal fallback.
func (s *Scheduler) BlockProvider(name string, minutes int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.load()
	s.autoUnblock(doc)

	p, ok := doc.Models[name]
	if !ok {
		s.log.Warn("block requested for unknown provider", "provider", name)
		return Terminal
	}
	p.Available = false
	p.BlockedUntil = s.now().Unix() + int64(minutes)*60
	doc.Stats.TotalFallbacks++
	doc.Stats.LastFallback = name
	s.save(doc)
	metrics.IncSchedulerFallback(name)
	s.log.Info("provider blocked", "provider", name, "minutes", minutes)

	if fb, ok := doc.Models[p.Fallback]; ok && fb.Available {
		return p.Fallback
	}
	return Terminal
}

// UnblockProvider clears a block unconditionally (manual override).
func (s *Scheduler) UnblockProvider(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.load()
	p, ok := doc.Models[name]
	if !ok {
		return
	}
	p.Available = true
	p.BlockedUntil = 0
	s.save(doc)
	s.log.Info("provider unblocked", "provider", name)
}

// Status returns the current document with expired blocks already cleared.
func (s *Scheduler) Status() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.load()
	if s.autoUnblock(doc) {
		s.save(doc)
	}
	return doc
}
