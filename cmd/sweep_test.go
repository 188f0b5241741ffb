package cmd

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepCmd(t *testing.T) {
	resetForTest(t)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/error-1.png", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/work/error-2.png", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/work/keep.png", []byte("x"), 0o644))
	sweepFs = func() afero.Fs { return fs }

	cfgPath := writeConfig(t, "logger:\n  log_file: \"\"\nrun:\n  diagnostics_dir: /work\n")
	out, err := execute(t, "sweep", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 2 file(s).")

	kept, err := afero.Exists(fs, "/work/keep.png")
	require.NoError(t, err)
	assert.True(t, kept)
}
