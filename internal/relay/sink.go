package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/relaykit/relayd/internal/history"
)

// historySink appends call records off the request path. Records are
// dropped, with a log line, when the buffer is full or the sink closed.
type historySink struct {
	store history.Store
	log   *slog.Logger
	ch    chan history.Record

	closeOnce sync.Once
	drained   chan struct{}
}

func newHistorySink(store history.Store, log *slog.Logger) *historySink {
	s := &historySink{
		store:   store,
		log:     log,
		ch:      make(chan history.Record, 256),
		drained: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *historySink) run() {
	defer close(s.drained)
	for rec := range s.ch {
		if err := s.store.Append(context.Background(), rec); err != nil {
			s.log.Warn("history append failed", "error", err)
		}
	}
}

func (s *historySink) record(rec history.Record) {
	select {
	case s.ch <- rec:
	default:
		s.log.Warn("history buffer full, dropping record")
	}
}

// close flushes buffered records and closes the underlying store.
func (s *historySink) close() {
	s.closeOnce.Do(func() {
		close(s.ch)
		<-s.drained
		if err := s.store.Close(); err != nil {
			s.log.Warn("history close failed", "error", err)
		}
	})
}
