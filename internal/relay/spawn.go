package relay

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// SpawnOnce runs the external CLI tool as a fresh subprocess for a single
// request. Slower than the persistent channel but free of shared state.
func SpawnOnce(ctx context.Context, bin string, args []string, timeout time.Duration) Result {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// #nosec G204 -- bin is the operator-configured CLI tool, resolved via LookPath
	cmd := exec.CommandContext(cctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		OK:     err == nil,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil && res.Stderr == "" {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			res.Stderr = "spawn timed out: " + err.Error()
		} else {
			res.Stderr = err.Error()
		}
	}
	return res
}
