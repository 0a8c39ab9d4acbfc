// Package config loads the relayd TOML configuration.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/relaykit/relayd/internal/logger"
)

// Defaults for a config-less run.
const (
	DefaultSocketPath     = "/tmp/relayd.sock"
	DefaultLockPath       = "/tmp/relayd.pid"
	DefaultRequestTimeout = 30 * time.Second
	DefaultSpawnTimeout   = 60 * time.Second
	DefaultStartupWait    = 5 * time.Second
)

// CLIConfig describes the external CLI tool the relay brokers calls to.
type CLIConfig struct {
	// Command is the executable name or path; resolved once via LookPath.
	Command string `mapstructure:"command"`
	// WorkerArgs start the persistent worker mode. Empty disables the
	// persistent channel and every call takes the one-shot path.
	WorkerArgs []string `mapstructure:"worker_args"`
}

// RegistryConfig tunes liveness-record discovery and orphan reclamation.
type RegistryConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
	// WorkerPattern matches supervised worker command lines.
	WorkerPattern string `mapstructure:"worker_pattern"`
	// ServerPattern matches duplicate auxiliary server command lines.
	ServerPattern string `mapstructure:"server_pattern"`
	KeepRecent    int    `mapstructure:"keep_recent"`
}

// SchedulerConfig tunes the provider availability scheduler.
type SchedulerConfig struct {
	StatePath    string `mapstructure:"state_path"`
	BlockMinutes int    `mapstructure:"block_minutes"`
}

// Config is the top-level TOML structure.
type Config struct {
	SocketPath     string          `mapstructure:"socket_path"`
	LockPath       string          `mapstructure:"lock_path"`
	ProjectRoot    string          `mapstructure:"project_root"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	SpawnTimeout   time.Duration   `mapstructure:"spawn_timeout"`
	StartupWait    time.Duration   `mapstructure:"startup_wait"`
	HistoryDSN     string          `mapstructure:"history_dsn"`
	CLI            CLIConfig       `mapstructure:"cli"`
	Registry       RegistryConfig  `mapstructure:"registry"`
	Scheduler      SchedulerConfig `mapstructure:"scheduler"`
	Log            LogConfig       `mapstructure:"log"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggerConfig converts the TOML log section to the logger package's shape.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		FilePath:   c.Log.File,
		Level:      c.Log.Level,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// Load reads the TOML config at path. An empty path yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.LockPath == "" {
		c.LockPath = DefaultLockPath
	}
	if c.ProjectRoot == "" {
		c.ProjectRoot = "."
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SpawnTimeout <= 0 {
		c.SpawnTimeout = DefaultSpawnTimeout
	}
	if c.StartupWait <= 0 {
		c.StartupWait = DefaultStartupWait
	}
	if c.Registry.MaxDepth <= 0 {
		c.Registry.MaxDepth = 4
	}
	if c.Registry.KeepRecent <= 0 {
		c.Registry.KeepRecent = 1
	}
	if c.Registry.WorkerPattern == "" {
		c.Registry.WorkerPattern = c.CLI.Command
	}
	if c.Scheduler.StatePath == "" {
		c.Scheduler.StatePath = filepath.Join(c.ProjectRoot, ".relayd", "providers.json")
	}
	if c.Scheduler.BlockMinutes <= 0 {
		c.Scheduler.BlockMinutes = 30
	}
}
