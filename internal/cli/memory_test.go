package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/sylva/internal/observability"
)

func TestMemoryCommands(t *testing.T) {
	path, dataDir := writeConfig(t, "memory:\n  backend: sqlite\n")

	_, err := execute(t, "", "memory", "set", "context:parcel-1", `{"area_ha": 12, "owner": "state"}`, "--config", path)
	require.NoError(t, err)
	_, err = execute(t, "", "memory", "set", "note", "plain text", "--config", path)
	require.NoError(t, err)

	out, err := execute(t, "", "memory", "get", "context:parcel-1", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"area_ha": 12`)
	assert.Contains(t, out, `"owner": "state"`)

	out, err = execute(t, "", "memory", "get", "note", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"plain text"`)

	out, err = execute(t, "", "memory", "keys", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "context:parcel-1\nnote\n", out)

	out, err = execute(t, "", "memory", "keys", "--pattern", "context:*", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "context:parcel-1\n", out)

	_, err = execute(t, "", "memory", "delete", "note", "--config", path)
	require.NoError(t, err)

	_, err = execute(t, "", "memory", "get", "note", "--config", path)
	assert.ErrorContains(t, err, "not found")

	events, err := observability.ReadAuditLog(dataDir)
	require.NoError(t, err)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		assert.Equal(t, "cli", e.Actor)
		actions = append(actions, e.Type+":"+e.Action+":"+e.Target)
	}
	assert.Equal(t, []string{"memory:set:context:parcel-1", "memory:set:note", "memory:delete:note"}, actions)
}

func TestMemoryCleanupCommand(t *testing.T) {
	path, _ := writeConfig(t, "")

	_, err := execute(t, "", "memory", "set", "short", "1", "--ttl", "1ms", "--config", path)
	require.NoError(t, err)
	_, err = execute(t, "", "memory", "set", "long", "2", "--config", path)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	out, err := execute(t, "", "memory", "cleanup", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "Removed 1 expired entries\n", out)

	out, err = execute(t, "", "memory", "keys", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "long\n", out)
}

func TestMemoryCommandBadBackendPath(t *testing.T) {
	path, _ := writeConfig(t, "memory:\n  path: /dev/null/memory.db\n")

	_, err := execute(t, "", "memory", "keys", "--config", path)
	assert.ErrorContains(t, err, "failed to open memory")
}
