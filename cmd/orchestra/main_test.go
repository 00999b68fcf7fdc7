package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestValidateCommand(t *testing.T) {
	require.NoError(t, execute("validate", "../../internal/cli/testdata/rollout.yaml"))

	err := execute("validate", "../../testdata/release.yaml")
	assert.ErrorContains(t, err, "1 of 1 definitions failed", "release tasks are not built in")

	require.NoError(t, execute("validate", "--tasks", "build,publish,cleanup", "../../testdata/release.yaml"))

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("id: b\ninitial: A\nstates:\n  - {name: A, type: TASK, task: echo}\ntransitions:\n  - {from: A, to: Z, type: SUCCESS}\n"), 0o600))
	assert.Error(t, execute("validate", broken))
}

func TestRunCommand(t *testing.T) {
	require.NoError(t, execute("run", "--approve", "--run-id", "cmd-run", "../../internal/cli/testdata/rollout.yaml"))
	assert.Error(t, execute("run", "--config", "missing.yaml", "../../internal/cli/testdata/rollout.yaml"))
}

func TestGraphAndVersion(t *testing.T) {
	require.NoError(t, execute("graph", "../../testdata/release.yaml"))
	require.NoError(t, execute("describe", "../../testdata/release.yaml"))
	require.NoError(t, execute("version"))
	assert.Error(t, execute("graph"))
}
