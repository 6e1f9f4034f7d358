package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagsDefaults(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	var c Config
	cmd := &cobra.Command{RunE: func(*cobra.Command, []string) error { return nil }}
	c.Flags(cmd)

	require.NoError(cmd.PreRunE(cmd, nil))
	assert.Equal(DefaultDataDir, c.DataDir)
}

func TestFlagsConfigFileProvidesDefaultsOnly(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(os.WriteFile(path, []byte("data_dir: /from/file\nlog_dir: /from/file/logs\n"), 0o644))

	var c Config
	cmd := &cobra.Command{RunE: func(*cobra.Command, []string) error { return nil }}
	c.ServeFlags(cmd)

	require.NoError(cmd.Flags().Set("config", path))
	require.NoError(cmd.Flags().Set("server_data_dir", "/explicit"))

	require.NoError(cmd.PreRunE(cmd, nil))

	assert.Equal("/explicit", c.DataDir, "an explicit flag wins over the config file's default")
	assert.Equal("/from/file/logs", c.LogDir, "an unset flag falls back to the config file")
}

func TestLoadFileMissingFileErrors(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var c Config
	cmd := &cobra.Command{RunE: func(*cobra.Command, []string) error { return nil }}
	c.Flags(cmd)
	require.NoError(cmd.Flags().Set("config", "/does/not/exist.yaml"))

	require.Error(cmd.PreRunE(cmd, nil))
}
