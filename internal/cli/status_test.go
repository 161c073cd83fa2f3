package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/sylva/internal/daemon"
)

func TestStatusCommand(t *testing.T) {
	t.Run("stopped", func(t *testing.T) {
		path, _ := writeConfig(t, "")

		out, err := execute(t, "", "status", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Status: stopped")
	})

	t.Run("running with snapshot", func(t *testing.T) {
		path, dataDir := writeConfig(t, "")
		// this test process stands in for the daemon
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, "sylva.pid"), []byte(strconv.Itoa(os.Getpid())), 0o644))

		now := time.Now().UTC()
		lm := daemon.NewLifecycleManager(filepath.Join(dataDir, "sylva.pid"), filepath.Join(dataDir, "status.json"), quietLogger())
		require.NoError(t, lm.WriteStatus(daemon.Status{
			Running:   true,
			Version:   "test",
			StartTime: now.Add(-90 * time.Second),
			UpdatedAt: now,
			RuleSets:  1,
			Rules:     4,
		}))

		out, err := execute(t, "", "status", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Status: running")
		assert.Contains(t, out, "PID: "+strconv.Itoa(os.Getpid()))
		assert.Contains(t, out, "Uptime: 1m30s")
		assert.Contains(t, out, "Rules: 4 in 1 sets")

		out, err = execute(t, "", "status", "--config", path, "--json")
		require.NoError(t, err)
		assert.Contains(t, out, `"rules": 4`)
	})
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5*time.Second))
	assert.Equal(t, "2m3s", formatDuration(123*time.Second))
	assert.Equal(t, "1h0m1s", formatDuration(time.Hour+time.Second))
}

func TestStopCommandNotRunning(t *testing.T) {
	path, _ := writeConfig(t, "")

	out, err := execute(t, "", "stop", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Daemon is not running")
}

func TestStartCommandRefusesWhenRunning(t *testing.T) {
	path, dataDir := writeConfig(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "sylva.pid"), []byte(strconv.Itoa(os.Getppid())), 0o644))

	_, err := execute(t, "", "start", "--config", path)
	assert.ErrorContains(t, err, "already running")
}
