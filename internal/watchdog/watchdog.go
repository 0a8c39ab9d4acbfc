// Package watchdog keeps exactly one healthy relay server running. It
// probes the socket, launches or kills the daemon, and sweeps the health
// registry for stale state left behind by crashed instances.
package watchdog

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/relaykit/relayd/internal/proctable"
	"github.com/relaykit/relayd/internal/registry"
	"github.com/relaykit/relayd/internal/relay"
)

const (
	pollInterval = 100 * time.Millisecond
	stopGrace    = 3 * time.Second
	probeTimeout = 2 * time.Second
)

// Controller orchestrates the relay daemon lifecycle.
type Controller struct {
	SocketPath string
	LockPath   string
	// Launch starts a detached relay daemon. Required for Start.
	Launch func() error
	// StartupWait bounds how long Start waits for the daemon to answer.
	StartupWait time.Duration
	Table       proctable.Table
	// Registry, when set, is reconciled on every Check and Start.
	Registry *registry.Registry
	Log      *slog.Logger

	client *relay.Client
}

// Report is the composite state returned by Status and Check.
type Report struct {
	Running   bool                    `json:"running"`
	Healthy   bool                    `json:"healthy"`
	PID       int                     `json:"pid,omitempty"`
	Started   bool                    `json:"started,omitempty"`
	Repairs   int                     `json:"repairs,omitempty"`
	Reclaimed int                     `json:"reclaimed,omitempty"`
	RepairLog int                     `json:"repairLog,omitempty"`
	Records   []registry.RecordStatus `json:"records,omitempty"`
	Metrics   *relay.Snapshot         `json:"metrics,omitempty"`
}

func New(socketPath, lockPath string) *Controller {
	return &Controller{
		SocketPath:  socketPath,
		LockPath:    lockPath,
		StartupWait: 5 * time.Second,
		Table:       proctable.OS{},
		Log:         slog.Default(),
	}
}

func (c *Controller) relayClient() *relay.Client {
	if c.client == nil {
		c.client = relay.NewClient(c.SocketPath)
	}
	return c.client
}

func (c *Controller) healthy(ctx context.Context) (int, bool) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	pid, err := c.relayClient().Health(ctx)
	return pid, err == nil
}

// sweep runs one registry reconciliation plus orphan reclamation pass.
func (c *Controller) sweep(rep *Report) {
	if c.Registry == nil {
		return
	}
	rep.Repairs = c.Registry.Reconcile()
	known := c.Registry.KnownPIDs(relay.ReadLockOwner(c.LockPath))
	rep.Reclaimed = c.Registry.ReclaimOrphans(known)
	rep.RepairLog = len(c.Registry.RepairLog())
}

// Check runs a reconciliation pass and reports relay health. It never
// starts or stops anything.
func (c *Controller) Check(ctx context.Context) (Report, error) {
	rep := Report{}
	c.sweep(&rep)
	if pid, ok := c.healthy(ctx); ok {
		rep.Running, rep.Healthy, rep.PID = true, true, pid
	}
	return rep, nil
}

// Start runs a reconciliation pass, then ensures a healthy relay is
// listening: the daemon is launched unless one already answers, and Start
// waits up to StartupWait for it to become healthy.
func (c *Controller) Start(ctx context.Context) (Report, error) {
	rep := Report{}
	c.sweep(&rep)
	if pid, ok := c.healthy(ctx); ok {
		rep.Running, rep.Healthy, rep.PID = true, true, pid
		return rep, nil
	}
	// A dead owner may still hold the lock; clear it so the new daemon
	// can claim the singleton.
	if owner := relay.ReadLockOwner(c.LockPath); owner > 0 && !c.Table.Alive(owner) {
		_ = os.Remove(c.LockPath)
		_ = os.Remove(c.SocketPath)
	}
	if err := c.Launch(); err != nil {
		return rep, err
	}
	rep.Started = true
	var pid int
	ok := awaitCondition(ctx, pollInterval, c.StartupWait, func() bool {
		var healthy bool
		pid, healthy = c.healthy(ctx)
		return healthy
	})
	if !ok {
		c.Log.Warn("relay did not become healthy", "wait", c.StartupWait)
		return rep, nil
	}
	rep.Running, rep.Healthy, rep.PID = true, true, pid
	return rep, nil
}

// Stop terminates the lock owner, escalating to SIGKILL after a grace
// period, and clears the socket and lock files.
func (c *Controller) Stop(ctx context.Context) error {
	owner := relay.ReadLockOwner(c.LockPath)
	if owner > 0 && c.Table.Alive(owner) {
		if err := c.Table.Terminate(owner, false); err != nil {
			return err
		}
		gone := awaitCondition(ctx, pollInterval, stopGrace, func() bool {
			return !c.Table.Alive(owner)
		})
		if !gone {
			c.Log.Warn("relay ignored SIGTERM, killing", "pid", owner)
			_ = c.Table.Terminate(owner, true)
		}
	}
	_ = os.Remove(c.SocketPath)
	_ = os.Remove(c.LockPath)
	return nil
}

// Status reports the relay's state without changing it.
func (c *Controller) Status(ctx context.Context) Report {
	rep := Report{PID: relay.ReadLockOwner(c.LockPath)}
	if rep.PID > 0 && c.Table.Alive(rep.PID) {
		rep.Running = true
	}
	if c.Registry != nil {
		rep.RepairLog = len(c.Registry.RepairLog())
		rep.Records = c.Registry.Snapshot()
	}
	pid, ok := c.healthy(ctx)
	if !ok {
		return rep
	}
	rep.Healthy = true
	rep.PID = pid
	mctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if snap, err := c.relayClient().Metrics(mctx); err == nil {
		rep.Metrics = &snap
	}
	return rep
}

// awaitCondition polls fn until it returns true, the timeout elapses or
// ctx is done. Reports whether fn ever succeeded.
func awaitCondition(ctx context.Context, interval, timeout time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if fn() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}
