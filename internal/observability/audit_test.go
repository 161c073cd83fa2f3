package observability

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLog(t *testing.T) {
	dir := t.TempDir()

	audit, err := OpenAuditLog(dir)
	require.NoError(t, err)

	audit.Record(context.Background(), AuditEvent{
		Type:     "memory",
		Actor:    "cli",
		Action:   "set",
		Target:   "context:parcel-1",
		Metadata: map[string]any{"ttl": "1h"},
	})
	audit.Record(context.Background(), AuditEvent{
		Type:   "schedule",
		Actor:  "cli",
		Action: "job_removed",
		Status: "failure",
	})
	require.NoError(t, audit.Close())
	require.NoError(t, audit.Close())

	events, err := ReadAuditLog(dir)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "memory", events[0].Type)
	assert.Equal(t, "set", events[0].Action)
	assert.Equal(t, "context:parcel-1", events[0].Target)
	assert.Equal(t, "success", events[0].Status)
	assert.Equal(t, "1h", events[0].Metadata["ttl"])
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, "failure", events[1].Status)
}

func TestAuditLogAppends(t *testing.T) {
	dir := t.TempDir()

	for i := 0; i < 2; i++ {
		audit, err := OpenAuditLog(dir)
		require.NoError(t, err)
		audit.Record(context.Background(), AuditEvent{Type: "daemon", Action: "start"})
		require.NoError(t, audit.Close())
	}

	events, err := ReadAuditLog(dir)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestNilAuditLog(t *testing.T) {
	var audit *AuditLog
	audit.Record(context.Background(), AuditEvent{Type: "daemon"})
	assert.NoError(t, audit.Close())
}

func TestReadAuditLog(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		events, err := ReadAuditLog(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("corrupt line", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, AuditFileName), []byte("{\"type\":\"a\"}\nnot json\n"), 0o600))

		events, err := ReadAuditLog(dir)
		assert.ErrorContains(t, err, "invalid audit line")
		assert.Len(t, events, 1)
	})
}
