package handlers

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomhayes/dispatchd/internal/ipc"
	"github.com/tomhayes/dispatchd/internal/store"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	st, err := store.New(store.Config{DataDir: t.TempDir(), LogDir: t.TempDir()})
	require.NoError(t, err)
	return New(st, nil)
}

func TestDispatchUnknownCommand(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	h := newTestHandlers(t)
	_, err := h.Dispatch(ipc.Command{Type: "bogus"})
	require.Error(err)
}

func TestAddJobRejectsReservedEnv(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	h := newTestHandlers(t)
	_, err := h.addJob(ipc.Command{Args: []string{"./x.sh"}, Envs: []string{"JOB_ID=5"}})
	require.ErrorIs(err, store.ErrReservedEnv)
	assert.Equal("Environment name JOB_ID is reserved.", err.Error())
}

func TestAddJobRejectsMalformedEnv(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	h := newTestHandlers(t)
	_, err := h.addJob(ipc.Command{Args: []string{"./x.sh"}, Envs: []string{"NOVALUE"}})
	require.Error(err)
}

func TestStatusRoundTripsThroughDispatch(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	h := newTestHandlers(t)
	require.NoError(h.Store.AddWorker("10.0.0.1", nil))

	resp, err := h.Dispatch(ipc.Command{Type: ipc.TypeStatus})
	require.NoError(err)

	doc, ok := resp.(store.StatusDocument)
	require.True(ok)
	require.Len(doc.Slaves, 1)
	assert.Equal("10.0.0.1", doc.Slaves[0].Address)
}

func TestLoadStatusRejectsMissingFile(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	h := newTestHandlers(t)
	_, err := h.loadStatus(ipc.Command{File: "/does/not/exist.json"})
	require.Error(err)
}

func TestParseEnvPairsDuplicateKeyLastWins(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	env, err := parseEnvPairs([]string{"A=1", "A=2"}, slog.Default())
	require.NoError(err)
	assert.Equal("2", env["A"])
}
