package main

import (
	"fmt"
	"os"
	"os/exec"
)

// daemonize re-execs the current binary detached in a new session and
// exits the parent. The child runs the same serve invocation minus the
// --daemonize flag; the relay's own lock file records the daemon PID.
func daemonize(logFile string) error {
	if os.Getppid() == 1 {
		// Already detached.
		return nil
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	var newArgs []string
	skipNext := false
	for _, arg := range os.Args[1:] {
		if skipNext {
			skipNext = false
			continue
		}
		switch arg {
		case "--daemonize":
			continue
		case "--logfile":
			skipNext = true
			continue
		}
		newArgs = append(newArgs, arg)
	}
	if logFile != "" {
		newArgs = append(newArgs, "--logfile", logFile)
	}

	// #nosec 204
	cmd := exec.Command(executable, newArgs...)
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil
	if logFile != "" {
		// #nosec 304
		logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		cmd.Stdout = logF
		cmd.Stderr = logF
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}
	fmt.Printf("Daemon started with PID %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil
}
