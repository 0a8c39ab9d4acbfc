package logger

import (
	"io"
	"log/slog"
	"os"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes the relayd logging destination.
// If FilePath is empty, logs go to stderr with the colored text handler.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	FilePath   string // rotating log file; empty means stderr
	Level      string // debug, info, warn, error (default info)
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // gzip rotated files
}

// Setup builds a slog.Logger from the config and installs it as the
// process default.
func Setup(c Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	var h slog.Handler
	if c.FilePath != "" {
		h = slog.NewTextHandler(rotatingWriter(c), opts)
	} else {
		h = NewColorTextHandler(os.Stderr, opts, true)
	}
	l := slog.New(h)
	slog.SetDefault(l)
	return l
}

func rotatingWriter(c Config) io.Writer {
	return &lj.Logger{
		Filename:   c.FilePath,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
