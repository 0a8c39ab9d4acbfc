package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaykit/relayd/internal/config"
	"github.com/relaykit/relayd/internal/logger"
	"github.com/relaykit/relayd/internal/scheduler"
)

// ProviderFlags holds flags for the provider subcommands
type ProviderFlags struct {
	Category string
	Minutes  int
}

func createProviderCommand(globalFlags *GlobalFlags, flags *ProviderFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage provider availability",
		Long: `Inspect and adjust the provider availability scheduler.

Examples:
  relayd provider best --category=analyze
  relayd provider block gemini-flash --minutes=30
  relayd provider classify gemini-pro < output.log`,
	}
	cmd.AddCommand(
		createProviderStatusCommand(globalFlags),
		createProviderBestCommand(globalFlags, flags),
		createProviderBlockCommand(globalFlags, flags),
		createProviderUnblockCommand(globalFlags),
		createProviderResetCommand(globalFlags),
		createProviderClassifyCommand(globalFlags),
	)
	return cmd
}

func newScheduler(configPath string) (*scheduler.Scheduler, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := logger.Setup(cfg.LoggerConfig())
	sched := scheduler.New(cfg.Scheduler.StatePath, scheduler.WithLogger(log))
	if err := sched.Initialize(); err != nil {
		return nil, err
	}
	return sched, nil
}

func createProviderStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every provider's availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := newScheduler(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			printJSON(sched.Status())
			return nil
		},
	}
}

func createProviderBestCommand(globalFlags *GlobalFlags, flags *ProviderFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "best",
		Short: "Pick the best available provider for a category",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := newScheduler(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			name, degraded := sched.GetBestProvider(flags.Category)
			if degraded {
				_, _ = fmt.Fprintln(os.Stderr, "warning: all providers blocked, using degraded fallback")
			}
			fmt.Println(name)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Category, "category", "", "task category (default chain when empty)")
	return cmd
}

func createProviderBlockCommand(globalFlags *GlobalFlags, flags *ProviderFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "block <provider>",
		Short: "Block a provider and print its fallback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := newScheduler(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			fmt.Println(sched.BlockProvider(args[0], flags.Minutes))
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.Minutes, "minutes", scheduler.DefaultBlockMinutes, "block duration in minutes")
	return cmd
}

func createProviderUnblockCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <provider>",
		Short: "Clear a provider's block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := newScheduler(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			sched.UnblockProvider(args[0])
			fmt.Println("unblocked")
			return nil
		},
	}
}

func createProviderResetCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset provider state to defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := newScheduler(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			if err := sched.Reset(); err != nil {
				return err
			}
			fmt.Println("reset")
			return nil
		},
	}
}

func createProviderClassifyCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <provider>",
		Short: "Scan stdin for rate-limit output and block the provider on a match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := newScheduler(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			output, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
			if err != nil {
				return err
			}
			if sched.DetectRateLimit(string(output), args[0]) {
				fmt.Println("rate-limited")
			} else {
				fmt.Println("ok")
			}
			return nil
		},
	}
}
