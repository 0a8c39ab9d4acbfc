package relay

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/relaykit/relayd/internal/metrics"
)

// Worker channel errors.
var (
	// ErrWorkerExited settles every request that was pending when the
	// persistent worker process died.
	ErrWorkerExited = errors.New("worker process exited")
	// ErrWorkerDead rejects new calls after the channel has been marked
	// unavailable.
	ErrWorkerDead = errors.New("worker channel unavailable")
	// ErrRequestTimeout settles a request whose matching response line
	// never arrived in time.
	ErrRequestTimeout = errors.New("request timed out")
)

// Result is the settled outcome of one relayed request.
type Result struct {
	OK     bool   `json:"ok"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// workerRequest is one outbound line on the persistent channel. The _id
// field correlates the response line back to the pending entry.
type workerRequest struct {
	ID   string   `json:"_id"`
	Args []string `json:"args"`
}

type workerResponse struct {
	ID     string `json:"_id"`
	OK     *bool  `json:"ok"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Worker owns one long-lived subprocess and multiplexes requests onto its
// stdin/stdout as line-delimited JSON with _id correlation. The streams are
// exclusively owned by this struct. There is no automatic respawn: once the
// process exits the channel stays dead and callers fall back to one-shot
// invocation.
type Worker struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	log *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Result
	dead    bool

	done chan struct{}
}

// StartWorker spawns the persistent worker subprocess and begins reading
// its response stream.
func StartWorker(bin string, args []string, log *slog.Logger) (*Worker, error) {
	// #nosec G204 -- bin is the operator-configured CLI tool, resolved via LookPath
	cmd := exec.Command(bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", bin, err)
	}
	w := &Worker{
		cmd:     cmd,
		in:      stdin,
		log:     log,
		pending: make(map[string]chan Result),
		done:    make(chan struct{}),
	}
	go w.readLoop(stdout)
	go w.waitLoop()
	log.Info("persistent worker started", "pid", cmd.Process.Pid, "bin", bin)
	return w, nil
}

// PID returns the worker process id, 0 when not running.
func (w *Worker) PID() int {
	if w == nil || w.cmd == nil || w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}

// Alive reports whether the channel can accept new requests.
func (w *Worker) Alive() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.dead
}

// Pending returns the number of in-flight requests.
func (w *Worker) Pending() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Call sends one request over the channel and waits for its correlated
// response. A timeout settles the entry as failed and removes it; a late
// worker response for that id is then dropped as unmatched.
func (w *Worker) Call(ctx context.Context, args []string, timeout time.Duration) (Result, error) {
	id := newRequestID()
	ch := make(chan Result, 1)

	w.mu.Lock()
	if w.dead {
		w.mu.Unlock()
		return Result{}, ErrWorkerDead
	}
	w.pending[id] = ch
	w.mu.Unlock()

	line, err := json.Marshal(workerRequest{ID: id, Args: args})
	if err != nil {
		w.remove(id)
		return Result{}, err
	}
	w.mu.Lock()
	_, werr := w.in.Write(append(line, '\n'))
	w.mu.Unlock()
	if werr != nil {
		w.remove(id)
		return Result{}, fmt.Errorf("write request: %w", werr)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res, ok := <-ch:
		if !ok {
			return Result{}, ErrWorkerExited
		}
		return res, nil
	case <-timer.C:
		w.remove(id)
		return Result{}, ErrRequestTimeout
	case <-ctx.Done():
		w.remove(id)
		return Result{}, ctx.Err()
	}
}

func (w *Worker) remove(id string) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

// readLoop matches response lines to pending entries. Lines with unknown
// or malformed ids are dropped.
func (w *Worker) readLoop(out io.Reader) {
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp workerResponse
		if err := json.Unmarshal(line, &resp); err != nil || resp.ID == "" {
			w.log.Warn("dropping malformed worker response line")
			continue
		}
		w.mu.Lock()
		ch, ok := w.pending[resp.ID]
		if ok {
			delete(w.pending, resp.ID)
		}
		w.mu.Unlock()
		if !ok {
			w.log.Warn("dropping unmatched worker response", "id", resp.ID)
			continue
		}
		// ok defaults to true unless the worker explicitly said false
		ch <- Result{OK: resp.OK == nil || *resp.OK, Stdout: resp.Stdout, Stderr: resp.Stderr}
	}
}

// waitLoop reaps the process and fails every pending entry exactly once.
func (w *Worker) waitLoop() {
	err := w.cmd.Wait()
	w.mu.Lock()
	w.dead = true
	flushed := w.pending
	w.pending = make(map[string]chan Result)
	w.mu.Unlock()
	for _, ch := range flushed {
		close(ch)
	}
	close(w.done)
	metrics.IncWorkerExit()
	w.log.Warn("persistent worker exited", "pending_failed", len(flushed), "error", err)
}

// Close terminates the worker process and waits for the reaper.
func (w *Worker) Close() {
	if w == nil || w.cmd == nil || w.cmd.Process == nil {
		return
	}
	w.mu.Lock()
	alreadyDead := w.dead
	w.mu.Unlock()
	if !alreadyDead {
		_ = w.cmd.Process.Kill()
	}
	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
	}
}

func newRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
