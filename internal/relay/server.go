package relay

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaykit/relayd/internal/history"
	"github.com/relaykit/relayd/internal/metrics"
	"github.com/relaykit/relayd/internal/proctable"
)

// Options configures a relay Server.
type Options struct {
	// SocketPath is the unix domain socket the HTTP surface listens on.
	SocketPath string
	// LockPath holds the singleton PID marker.
	LockPath string
	// Command is the CLI binary brokered by the relay; resolved via LookPath.
	Command string
	// WorkerArgs start the persistent worker. Empty disables the worker and
	// every request takes the one-shot spawn path.
	WorkerArgs []string
	// RequestTimeout bounds a single call on the persistent worker.
	RequestTimeout time.Duration
	// SpawnTimeout bounds a one-shot subprocess invocation.
	SpawnTimeout time.Duration
	// History receives call records; nil disables recording.
	History history.Store
	Table   proctable.Table
	Logger  *slog.Logger
}

// Server multiplexes short-lived CLI invocations onto a persistent worker
// subprocess, falling back to one-shot spawns when the worker is unavailable.
type Server struct {
	opts    Options
	cliPath string
	log     *slog.Logger

	lock *Lock
	ln   net.Listener
	srv  *http.Server

	mu     sync.Mutex
	worker *Worker

	counters counters
	sink     *historySink

	shutdown sync.Once
	done     chan struct{}
}

type execRequest struct {
	Args []string `json:"args"`
}

// NewServer validates options and resolves the CLI binary once.
func NewServer(opts Options) (*Server, error) {
	if opts.SocketPath == "" || opts.LockPath == "" {
		return nil, errors.New("relay: socket and lock paths required")
	}
	if opts.Command == "" {
		return nil, errors.New("relay: command required")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.SpawnTimeout <= 0 {
		opts.SpawnTimeout = 60 * time.Second
	}
	if opts.Table == nil {
		opts.Table = proctable.OS{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cliPath, err := exec.LookPath(opts.Command)
	if err != nil {
		return nil, err
	}
	s := &Server{
		opts:    opts,
		cliPath: cliPath,
		log:     opts.Logger,
		done:    make(chan struct{}),
	}
	s.counters.startedAt = time.Now()
	if opts.History != nil {
		s.sink = newHistorySink(opts.History, opts.Logger)
	}
	return s, nil
}

// Start acquires the singleton lock, binds the unix socket and begins
// serving. It returns once the listener is accepting connections.
func (s *Server) Start() error {
	lock, err := AcquireLock(s.opts.LockPath, s.opts.Table)
	if err != nil {
		return err
	}
	s.lock = lock

	// A dead server leaves its socket behind; the lock already proved we
	// are the only live instance, so reclaim it.
	_ = os.Remove(s.opts.SocketPath)
	ln, err := net.Listen("unix", s.opts.SocketPath)
	if err != nil {
		lock.Release()
		return err
	}
	if err := os.Chmod(s.opts.SocketPath, 0o600); err != nil {
		_ = ln.Close()
		lock.Release()
		return err
	}
	s.ln = ln

	if len(s.opts.WorkerArgs) > 0 {
		if err := s.startWorker(); err != nil {
			s.log.Warn("persistent worker unavailable, one-shot mode", "error", err)
		}
	}

	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve", "error", err)
		}
	}()
	s.log.Info("relay listening", "socket", s.opts.SocketPath, "pid", os.Getpid())
	return nil
}

// Handler returns the HTTP surface, mountable on any listener.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	g.POST("/hook", s.handleExecute)
	g.GET("/metrics", s.handleMetrics)
	g.GET("/metrics/prometheus", gin.WrapH(metrics.Handler()))
	g.GET("/health", s.handleHealth)
	return g
}

func (s *Server) handleExecute(c *gin.Context) {
	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Args) == 0 {
		// Malformed input still counts as a call so the snapshot
		// reflects every request the socket received.
		s.counters.totalCalls.Add(1)
		s.counters.errorCalls.Add(1)
		metrics.IncRelayError()
		c.JSON(http.StatusBadRequest, Result{OK: false, Stderr: "args required"})
		return
	}
	c.JSON(http.StatusOK, s.execute(c, req.Args))
}

func (s *Server) handleMetrics(c *gin.Context) {
	w := s.currentWorker()
	alive := w != nil && w.Alive()
	pending := 0
	if w != nil {
		pending = w.Pending()
	}
	c.JSON(http.StatusOK, s.counters.snapshot(alive, pending))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "pid": os.Getpid()})
}

// execute routes one call: persistent worker when healthy, one-shot spawn
// otherwise.
func (s *Server) execute(c *gin.Context, args []string) Result {
	start := time.Now()
	s.counters.totalCalls.Add(1)

	res, path := s.dispatch(c, args)
	metrics.IncRelayCall(path)

	elapsed := time.Since(start)
	s.counters.totalLatencyMs.Add(elapsed.Milliseconds())
	metrics.ObserveRelayDuration(elapsed.Seconds())
	if res.OK {
		s.counters.successCalls.Add(1)
	} else {
		s.counters.errorCalls.Add(1)
		metrics.IncRelayError()
	}
	if s.sink != nil {
		s.sink.record(history.Record{
			At:        start,
			Args:      strings.Join(args, " "),
			OK:        res.OK,
			LatencyMs: elapsed.Milliseconds(),
			Path:      path,
		})
	}
	return res
}

func (s *Server) dispatch(c *gin.Context, args []string) (Result, string) {
	if w := s.currentWorker(); w != nil {
		res, err := w.Call(c.Request.Context(), args, s.opts.RequestTimeout)
		if err == nil {
			s.counters.persistentHits.Add(1)
			return res, history.PathPersistent
		}
		s.log.Warn("worker call failed, spawning", "error", err)
	}
	s.counters.spawnFallbacks.Add(1)
	return SpawnOnce(c.Request.Context(), s.cliPath, args, s.opts.SpawnTimeout), history.PathSpawn
}

func (s *Server) startWorker() error {
	w, err := StartWorker(s.cliPath, s.opts.WorkerArgs, s.log)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.worker = w
	s.mu.Unlock()
	s.log.Info("persistent worker started", "pid", w.PID())
	return nil
}

func (s *Server) currentWorker() *Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker == nil || !s.worker.Alive() {
		return nil
	}
	return s.worker
}

// WorkerPID reports the persistent worker's PID, or 0 when absent.
func (s *Server) WorkerPID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker == nil {
		return 0
	}
	return s.worker.PID()
}

// Close tears the server down exactly once: worker, listener, socket file,
// lock, then the history sink. Safe to call from multiple goroutines.
func (s *Server) Close() {
	s.shutdown.Do(func() {
		s.mu.Lock()
		w := s.worker
		s.worker = nil
		s.mu.Unlock()
		if w != nil {
			w.Close()
		}
		if s.srv != nil {
			_ = s.srv.Close()
		}
		_ = os.Remove(s.opts.SocketPath)
		if s.lock != nil {
			s.lock.Release()
		}
		if s.sink != nil {
			s.sink.close()
		}
		close(s.done)
		s.log.Info("relay stopped")
	})
}

// Done is closed once Close has completed.
func (s *Server) Done() <-chan struct{} { return s.done }
