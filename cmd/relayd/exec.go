package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/relaykit/relayd/internal/config"
	"github.com/relaykit/relayd/internal/relay"
)

// ExecFlags holds flags for the exec command
type ExecFlags struct {
	NoFallback bool
}

func createExecCommand(globalFlags *GlobalFlags, flags *ExecFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec -- <args...>",
		Short: "Broker one CLI call through the relay",
		Long: `Send a single invocation to the relay daemon over its socket.
When the daemon is unreachable the call is spawned directly, so callers
never depend on the daemon being up.

Examples:
  relayd exec -- hook pre-commit
  relayd exec --no-fallback -- status`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, globalFlags.ConfigPath, flags, args)
		},
	}
	cmd.Flags().BoolVar(&flags.NoFallback, "no-fallback", false, "fail instead of spawning directly when the daemon is down")
	return cmd
}

func runExec(cmd *cobra.Command, configPath string, flags *ExecFlags, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	client := relay.NewClient(cfg.SocketPath)
	res, err := client.Execute(cmd.Context(), args, cfg.RequestTimeout)
	if err != nil {
		if flags.NoFallback {
			return fmt.Errorf("relay unreachable: %w", err)
		}
		if cfg.CLI.Command == "" {
			return fmt.Errorf("relay unreachable and no cli.command configured for direct spawn: %w", err)
		}
		bin, lerr := exec.LookPath(cfg.CLI.Command)
		if lerr != nil {
			return lerr
		}
		res = relay.SpawnOnce(cmd.Context(), bin, args, cfg.SpawnTimeout)
	}

	fmt.Print(res.Stdout)
	if res.Stderr != "" {
		_, _ = fmt.Fprint(os.Stderr, res.Stderr)
	}
	if !res.OK {
		os.Exit(1)
	}
	return nil
}
