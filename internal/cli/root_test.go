package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		out, err := execute(t, "", "--version")
		require.NoError(t, err)

		assert.Contains(t, out, "sylva version")
		assert.Contains(t, out, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		out, err := execute(t, "", "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "Sylva")
		assert.Contains(t, out, "message bus")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logFlag)
	})

	t.Run("subcommands registered", func(t *testing.T) {
		names := map[string]bool{}
		for _, c := range GetRootCmd().Commands() {
			names[c.Name()] = true
		}
		for _, want := range []string{"start", "stop", "status", "configure", "memory", "rules"} {
			assert.True(t, names[want], want)
		}
	})
}

func TestLoadConfigOverridesLogLevel(t *testing.T) {
	path, _ := writeConfig(t, "")
	cfgFile, logLevel = path, "debug"
	t.Cleanup(func() { cfgFile, logLevel = "", "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path, _ := writeConfig(t, "memory:\n  backend: redis\n")

	_, err := execute(t, "", "status", "--config", path)
	assert.ErrorContains(t, err, "invalid memory backend")
}
