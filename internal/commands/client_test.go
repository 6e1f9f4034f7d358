package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomhayes/dispatchd/internal/ipc"
)

func TestEnvPairsValidation(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	require.NoError(envPairs([]string{"A=1", "B=2"}))
	require.Error(envPairs([]string{"NOVALUE"}))
}

func TestReplyPrint(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	require.NoError(reply{Msg: "ok"}.print())
	require.Error(reply{Err: "boom"}.print())
}

func TestRequireRunningDaemonMissingFIFO(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	_, err := requireRunningDaemon(t.TempDir())
	require.Error(err)
}

func TestRequireRunningDaemonPresentFIFO(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, ipc.CommandsFIFOName)
	require.NoError(os.WriteFile(path, nil, 0o644))

	got, err := requireRunningDaemon(dir)
	require.NoError(err)
	assert.Equal(path, got)
}
