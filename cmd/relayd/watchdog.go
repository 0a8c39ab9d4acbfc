package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/relaykit/relayd/internal/config"
	"github.com/relaykit/relayd/internal/logger"
	"github.com/relaykit/relayd/internal/proctable"
	"github.com/relaykit/relayd/internal/registry"
	"github.com/relaykit/relayd/internal/watchdog"
)

func createWatchdogCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchdog",
		Short: "Supervise the relay daemon",
		Long: `Check, start, stop or report on the relay daemon.

Examples:
  relayd watchdog check             # Repair stale state, report health
  relayd watchdog start             # Repair stale state, ensure relay is up
  relayd watchdog status            # Report without changing anything`,
	}
	cmd.AddCommand(
		createWatchdogAction(globalFlags, "check", "Repair stale state and report relay health"),
		createWatchdogAction(globalFlags, "start", "Repair stale state, then start the relay if not running"),
		createWatchdogAction(globalFlags, "stop", "Stop the relay daemon"),
		createWatchdogAction(globalFlags, "status", "Report relay health and metrics"),
	)
	return cmd
}

func createWatchdogAction(globalFlags *GlobalFlags, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchdog(cmd.Context(), globalFlags.ConfigPath, action)
		},
	}
}

func runWatchdog(ctx context.Context, configPath, action string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.LoggerConfig())

	reg := registry.New(cfg.ProjectRoot, proctable.OS{})
	reg.MaxDepth = cfg.Registry.MaxDepth
	reg.WorkerPattern = cfg.Registry.WorkerPattern
	reg.ServerPattern = cfg.Registry.ServerPattern
	reg.KeepRecent = cfg.Registry.KeepRecent
	reg.Log = log

	ctl := watchdog.New(cfg.SocketPath, cfg.LockPath)
	ctl.StartupWait = cfg.StartupWait
	ctl.Registry = reg
	ctl.Log = log
	ctl.Launch = func() error { return launchDaemon(configPath) }

	switch action {
	case "check":
		rep, err := ctl.Check(ctx)
		if err != nil {
			return err
		}
		printJSON(rep)
	case "start":
		rep, err := ctl.Start(ctx)
		if err != nil {
			return err
		}
		printJSON(rep)
	case "stop":
		if err := ctl.Stop(ctx); err != nil {
			return err
		}
		fmt.Println("stopped")
	case "status":
		printJSON(ctl.Status(ctx))
	default:
		return fmt.Errorf("unknown watchdog action %q", action)
	}
	return nil
}

// launchDaemon re-execs this binary as a detached relay server.
func launchDaemon(configPath string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	args := []string{"serve", "--daemonize"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	// #nosec 204
	c := exec.Command(executable, args...)
	return c.Run()
}
