package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaykit/relayd/internal/config"
	"github.com/relaykit/relayd/internal/history"
	"github.com/relaykit/relayd/internal/history/factory"
	"github.com/relaykit/relayd/internal/logger"
	"github.com/relaykit/relayd/internal/metrics"
	"github.com/relaykit/relayd/internal/relay"
	"github.com/relaykit/relayd/internal/scheduler"
)

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Daemonize bool
	LogFile   string
}

func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the relay daemon",
		Long: `Start the relay daemon on its unix domain socket.

Examples:
  relayd serve                      # Foreground, built-in defaults
  relayd serve config.toml          # With a specific config file
  relayd serve --daemonize          # Detach into the background`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServe(configPath, serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func runServe(configPath string, flags *ServeFlags) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.CLI.Command == "" {
		return fmt.Errorf("cli.command must be set in the config to know which binary to broker")
	}

	if flags.Daemonize {
		return daemonize(flags.LogFile)
	}

	log := logger.Setup(cfg.LoggerConfig())
	if err := metrics.RegisterDefault(); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	sched := scheduler.New(cfg.Scheduler.StatePath, scheduler.WithLogger(log))
	if err := sched.Initialize(); err != nil {
		log.Warn("scheduler state init failed", "error", err)
	}

	var store history.Store
	if cfg.HistoryDSN != "" {
		store, err = factory.NewFromDSN(cfg.HistoryDSN)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		if err := store.EnsureSchema(context.Background()); err != nil {
			return fmt.Errorf("history schema: %w", err)
		}
	}

	srv, err := relay.NewServer(relay.Options{
		SocketPath:     cfg.SocketPath,
		LockPath:       cfg.LockPath,
		Command:        cfg.CLI.Command,
		WorkerArgs:     cfg.CLI.WorkerArgs,
		RequestTimeout: cfg.RequestTimeout,
		SpawnTimeout:   cfg.SpawnTimeout,
		History:        store,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		// Another live instance is authoritative; yielding to it is a
		// clean exit, not a failure.
		if errors.Is(err, relay.ErrAlreadyRunning) {
			log.Info("relay already running, exiting", "detail", err.Error())
			return nil
		}
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Info("signal received, shutting down", "signal", s.String())
		srv.Close()
	}()

	<-srv.Done()
	return nil
}
