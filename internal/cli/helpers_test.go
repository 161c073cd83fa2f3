package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout. Flag
// variables are reset afterwards because cobra keeps them between runs.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		cfgFile, logLevel = "", ""
		memoryTTL, memoryPattern = 0, "*"
		rulesFacts, rulesSet = "", ""
		statusJSON = false
		stopTimeout = 30 * time.Second
		scheduleEvery, scheduleAt, scheduleCron, scheduleTZ = 0, "", "", ""
		schedulePayload, schedulePriority = "", ""
		scheduleDisabled, scheduleDeleteAfterRun = false, false
	})

	cmd := GetRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

// writeConfig writes a config file rooted in a fresh temp dir.
func writeConfig(t *testing.T, extra string) (path, dataDir string) {
	t.Helper()
	dataDir = t.TempDir()
	path = filepath.Join(dataDir, "sylva.yaml")
	content := "data_dir: " + dataDir + "\nlogging:\n  console: false\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, dataDir
}
