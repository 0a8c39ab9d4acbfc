package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by all subcommands
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}
	execFlags := &ExecFlags{}
	providerFlags := &ProviderFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createWatchdogCommand(globalFlags),
		createProviderCommand(globalFlags, providerFlags),
		createExecCommand(globalFlags, execFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "relayd",
		Short: "Local relay daemon for brokered CLI calls",
		Long: `Relayd multiplexes short-lived CLI invocations onto a persistent
worker subprocess over a unix domain socket, and keeps the daemon healthy
with a watchdog and a provider availability scheduler.

Examples:
  relayd serve                      # Start the relay daemon
  relayd exec -- hook pre-commit    # Broker one call through the daemon
  relayd watchdog check             # Ensure a healthy daemon is running
  relayd provider best --category=analyze`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}
