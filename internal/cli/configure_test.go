package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/sylva/internal/config"
	"github.com/harun/sylva/internal/observability"
)

func TestConfigureCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sylva.json")
	dataDir := filepath.Join(dir, "data")

	// data dir, backend, regulatory, rules dir, metrics, log level
	input := dataDir + "\nmemory\ny\n\nn\nwarn\n"

	out, err := execute(t, input, "configure", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration saved to: "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, "memory", cfg.Memory.Backend)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, filepath.Join(dataDir, "rules"), cfg.Agents.Regulatory.RulesDir)
	assert.DirExists(t, cfg.Agents.Regulatory.RulesDir)

	events, err := observability.ReadAuditLog(dataDir)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "config", events[0].Type)
	assert.Equal(t, path, events[0].Target)
}
