package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harvestRules = `id: harvest
rules:
  - id: large
    condition: area_ha > 10
    severity: violation
    message: clearcut exceeds 10 ha
  - id: steep
    condition: slope > 20
    severity: warning
    message: steep terrain
`

func TestRulesCheckCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "harvest.yaml"), []byte(harvestRules), 0o644))

	t.Run("validate directory", func(t *testing.T) {
		out, err := execute(t, "", "rules", "check", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "harvest: 2 rules")
		assert.Contains(t, out, "OK: 1 rule sets, 2 rules")
	})

	t.Run("evaluate facts", func(t *testing.T) {
		facts := filepath.Join(t.TempDir(), "facts.json")
		require.NoError(t, os.WriteFile(facts, []byte(`{"area_ha": 14, "slope": 5}`), 0o644))

		out, err := execute(t, "", "rules", "check", dir, "--facts", facts)
		require.NoError(t, err)
		assert.Contains(t, out, "[violation] harvest/large: clearcut exceeds 10 ha")
		assert.NotContains(t, out, "steep")
	})

	t.Run("no findings", func(t *testing.T) {
		facts := filepath.Join(t.TempDir(), "facts.json")
		require.NoError(t, os.WriteFile(facts, []byte(`{"area_ha": 2, "slope": 5}`), 0o644))

		out, err := execute(t, "", "rules", "check", dir, "--facts", facts, "--set", "harvest")
		require.NoError(t, err)
		assert.Contains(t, out, "No findings")
	})

	t.Run("broken rule file", func(t *testing.T) {
		bad := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(bad, "bad.yaml"), []byte("id: bad\nrules:\n  - id: x\n    condition: 'a >'\n"), 0o644))

		_, err := execute(t, "", "rules", "check", bad)
		assert.Error(t, err)
	})

	t.Run("configured directory", func(t *testing.T) {
		path, _ := writeConfig(t, "agents:\n  regulatory:\n    rules_dir: "+dir+"\n")

		out, err := execute(t, "", "rules", "check", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "OK: 1 rule sets, 2 rules")
	})
}
