package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleCommands(t *testing.T) {
	path, _ := writeConfig(t, "")

	out, err := execute(t, "", "schedule", "list", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "No scheduled jobs\n", out)

	out, err = execute(t, "", "schedule", "add", "nightly", "regulation.check",
		"--cron", "0 2 * * *",
		"--payload", `{"subject_id": "district-4", "facts": {}}`,
		"--priority", "high",
		"--config", path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "Added "))
	id := strings.Fields(out)[1]

	out, err = execute(t, "", "schedule", "list", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "nightly")
	assert.Contains(t, out, "regulation.check")
	assert.Contains(t, out, "0 2 * * *")

	out, err = execute(t, "", "schedule", "remove", id, "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "Removed "+id+"\n", out)

	_, err = execute(t, "", "schedule", "remove", id, "--config", path)
	assert.ErrorContains(t, err, "job not found")
}

func TestScheduleAddValidation(t *testing.T) {
	path, _ := writeConfig(t, "")

	_, err := execute(t, "", "schedule", "add", "job", "a.b", "--config", path)
	assert.ErrorContains(t, err, "exactly one of")

	_, err = execute(t, "", "schedule", "add", "job", "a.b", "--every", "1m", "--cron", "@daily", "--config", path)
	assert.ErrorContains(t, err, "exactly one of")

	_, err = execute(t, "", "schedule", "add", "job", "a.b", "--at", "tomorrow", "--config", path)
	assert.ErrorContains(t, err, "invalid --at time")

	_, err = execute(t, "", "schedule", "add", "job", "a.*", "--every", "1m", "--config", path)
	assert.ErrorContains(t, err, "invalid topic")

	_, err = execute(t, "", "schedule", "add", "job", "a.b", "--every", "1m", "--payload", "[1]", "--config", path)
	assert.ErrorContains(t, err, "JSON object")
}

func TestScheduleRefusesEditsWhileRunning(t *testing.T) {
	path, dataDir := writeConfig(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "sylva.pid"), []byte(strconv.Itoa(os.Getpid())), 0o644))

	_, err := execute(t, "", "schedule", "add", "job", "a.b", "--every", "1m", "--config", path)
	assert.ErrorContains(t, err, "daemon is running")
}

func TestScheduleDisabled(t *testing.T) {
	path, _ := writeConfig(t, "schedule:\n  enabled: false\n")

	_, err := execute(t, "", "schedule", "list", "--config", path)
	assert.ErrorContains(t, err, "disabled")
}
