package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSocketPath, cfg.SocketPath)
	assert.Equal(t, DefaultLockPath, cfg.LockPath)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, DefaultSpawnTimeout, cfg.SpawnTimeout)
	assert.Equal(t, 4, cfg.Registry.MaxDepth)
	assert.Equal(t, 1, cfg.Registry.KeepRecent)
	assert.Equal(t, 30, cfg.Scheduler.BlockMinutes)
	assert.Equal(t, filepath.Join(".", ".relayd", "providers.json"), cfg.Scheduler.StatePath)
}

func TestLoadTOML(t *testing.T) {
	content := `
socket_path = "/run/relayd/relayd.sock"
lock_path = "/run/relayd/relayd.pid"
project_root = "/srv/tasks"
request_timeout = "10s"
history_dsn = "sqlite:///var/lib/relayd/history.db"

[cli]
command = "mycli"
worker_args = ["--persistent", "--json"]

[registry]
max_depth = 2
worker_pattern = "mycli --persistent"
server_pattern = "relayd serve"
keep_recent = 2

[scheduler]
block_minutes = 45

[log]
file = "/var/log/relayd.log"
level = "debug"
`
	path := filepath.Join(t.TempDir(), "relayd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/run/relayd/relayd.sock", cfg.SocketPath)
	assert.Equal(t, "/srv/tasks", cfg.ProjectRoot)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "mycli", cfg.CLI.Command)
	assert.Equal(t, []string{"--persistent", "--json"}, cfg.CLI.WorkerArgs)
	assert.Equal(t, 2, cfg.Registry.MaxDepth)
	assert.Equal(t, 2, cfg.Registry.KeepRecent)
	assert.Equal(t, 45, cfg.Scheduler.BlockMinutes)
	// Scheduler state path defaults under the configured project root.
	assert.Equal(t, "/srv/tasks/.relayd/providers.json", cfg.Scheduler.StatePath)

	lc := cfg.LoggerConfig()
	assert.Equal(t, "/var/log/relayd.log", lc.FilePath)
	assert.Equal(t, "debug", lc.Level)

	// Spawn timeout was omitted, so the default holds.
	assert.Equal(t, DefaultSpawnTimeout, cfg.SpawnTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestWorkerPatternDefaultsToCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.toml")
	require.NoError(t, os.WriteFile(path, []byte("[cli]\ncommand = \"mycli\"\n"), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mycli", cfg.Registry.WorkerPattern)
}
