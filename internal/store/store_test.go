package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomhayes/dispatchd/internal/worker"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(Config{DataDir: t.TempDir(), LogDir: t.TempDir()})
	require.NoError(t, err)
	return st
}

func TestAddJobQueuesWhenNoWorkers(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	st := newTestStore(t)
	msg, err := st.AddJob([]string{"./x.sh"}, nil)
	require.NoError(err)
	assert.Contains(msg, "waiting list")

	doc := st.Status()
	assert.Len(doc.JobWaitlist, 1)
}

func TestAddJobRejectsEmptyArgv(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	st := newTestStore(t)
	_, err := st.AddJob(nil, nil)
	require.Error(err)
}

func TestAddJobRejectsReservedEnv(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	st := newTestStore(t)
	_, err := st.AddJob([]string{"./x.sh"}, map[string]string{EnvSlaveIP: "1.2.3.4"})
	require.ErrorIs(err, ErrReservedEnv)
	assert.Equal("Environment name SLAVE_IP is reserved.", err.Error())
}

func TestAddWorkerAssignsQueuedJobImmediately(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	st := newTestStore(t)

	_, err := st.AddJob([]string{"true"}, nil)
	require.NoError(err)

	require.NoError(st.AddWorker("10.0.0.1", nil))

	doc := st.Status()
	assert.Empty(doc.JobWaitlist, "the new worker must pick up the queued job before AddWorker returns")
	require.Len(doc.Slaves, 1)
	assert.Equal(worker.StatusBusy, doc.Slaves[0].Status)
}

func TestAddWorkerDuplicateAddressFails(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	st := newTestStore(t)
	require.NoError(st.AddWorker("10.0.0.1", nil))
	err := st.AddWorker("10.0.0.1", nil)
	require.ErrorIs(err, ErrWorkerExists)
	assert.Equal("10.0.0.1 is already added", err.Error())
}

func TestRemoveJobNoMatchIsNotAnError(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	st := newTestStore(t)
	msg, err := st.RemoveJob([]string{"./nope.sh"}, nil)
	require.NoError(err)
	assert.Contains(msg, "no match found")
}

func TestRemoveJobRemovesExactMatch(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	st := newTestStore(t)
	_, err := st.AddJob([]string{"./x.sh", "1"}, map[string]string{"A": "1"})
	require.NoError(err)

	msg, err := st.RemoveJob([]string{"./x.sh", "1"}, map[string]string{"A": "1"})
	require.NoError(err)
	assert.Contains(msg, "removed from the waitlist")
	assert.Empty(st.Status().JobWaitlist)
}

func TestRemoveWorkerIdleIsImmediate(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	st := newTestStore(t)
	require.NoError(st.AddWorker("10.0.0.1", nil))
	require.NoError(st.RemoveWorker("10.0.0.1", false, false))
	assert.Empty(st.Status().Slaves)
}

func TestRemoveWorkerUnknownAddress(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	st := newTestStore(t)
	err := st.RemoveWorker("10.0.0.1", false, false)
	require.ErrorIs(err, ErrWorkerNotFound)
}

func TestRemoveWorkerBusyWithoutWaitOrKillFails(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	st := newTestStore(t)
	_, err := st.AddJob([]string{"sleep", "5"}, nil)
	require.NoError(err)
	require.NoError(st.AddWorker("10.0.0.1", nil))

	err = st.RemoveWorker("10.0.0.1", false, false)
	require.ErrorIs(err, ErrWorkerBusy)
}

func TestRemoveWorkerKillTerminatesJobAndRemoves(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	st := newTestStore(t)
	_, err := st.AddJob([]string{"sleep", "30"}, nil)
	require.NoError(err)
	require.NoError(st.AddWorker("10.0.0.1", nil))

	require.NoError(st.RemoveWorker("10.0.0.1", false, true))
	assert.Empty(st.Status().Slaves)
}

func TestRemoveWorkerWaitMarksRemovingThenCompletesAway(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	st := newTestStore(t)
	_, err := st.AddJob([]string{"sleep", "1"}, nil)
	require.NoError(err)
	require.NoError(st.AddWorker("10.0.0.1", nil))

	require.NoError(st.RemoveWorker("10.0.0.1", true, false))

	doc := st.Status()
	require.Len(doc.Slaves, 1)
	assert.Equal(worker.StatusRemoving, doc.Slaves[0].Status)

	require.Eventually(func() bool {
		return len(st.Status().Slaves) == 0
	}, 5*time.Second, 50*time.Millisecond, "the worker must disappear once its job finishes")
}

func TestRemoveWorkerAlreadyRemovingFails(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	st := newTestStore(t)
	_, err := st.AddJob([]string{"sleep", "5"}, nil)
	require.NoError(err)
	require.NoError(st.AddWorker("10.0.0.1", nil))
	require.NoError(st.RemoveWorker("10.0.0.1", true, false))

	err = st.RemoveWorker("10.0.0.1", true, false)
	require.ErrorIs(err, ErrAlreadyRemoving)
}

func TestJobCompletionFreesWorkerForNextQueuedJob(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	st := newTestStore(t)
	_, err := st.AddJob([]string{"true"}, nil)
	require.NoError(err)
	_, err = st.AddJob([]string{"true"}, nil)
	require.NoError(err)

	require.NoError(st.AddWorker("10.0.0.1", nil))

	doc := st.Status()
	require.Len(doc.JobWaitlist, 1, "only one job fits on the single worker; the rest waits")

	require.Eventually(func() bool {
		doc := st.Status()
		return len(doc.JobWaitlist) == 0 && doc.Slaves[0].Status == worker.StatusIdle
	}, 5*time.Second, 50*time.Millisecond, "the second job must be picked up once the first completes")
}

func TestShutdownPreservesRunningJobForReload(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	dataDir := t.TempDir()
	logDir := t.TempDir()

	st, err := New(Config{DataDir: dataDir, LogDir: logDir})
	require.NoError(err)

	_, err = st.AddJob([]string{"sleep", "30"}, nil)
	require.NoError(err)
	require.NoError(st.AddWorker("10.0.0.1", nil))

	require.NoError(st.Shutdown())
	assert.True(st.ShouldStop())

	reloaded, err := New(Config{DataDir: dataDir, LogDir: logDir})
	require.NoError(err)

	doc := reloaded.Status()
	require.Len(doc.Slaves, 1)
	assert.Equal(worker.StatusBusy, doc.Slaves[0].Status, "a running job survives a restart instead of being dropped")

	require.NoError(reloaded.RemoveWorker("10.0.0.1", false, true))
}

func TestLoadStatusReplacesState(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	st := newTestStore(t)
	require.NoError(st.AddWorker("10.0.0.1", nil))

	doc := StatusDocument{
		Slaves: []*worker.Worker{
			{Address: "10.0.0.2", Status: worker.StatusIdle},
		},
	}
	require.NoError(st.LoadStatus(doc))

	got := st.Status()
	require.Len(got.Slaves, 1)
	assert.Equal("10.0.0.2", got.Slaves[0].Address)
}

func TestMergeEnvPrecedence(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	env := mergeEnv("10.0.0.1", 42, map[string]string{"A": "default", "B": "default"}, map[string]string{"A": "override"})

	has := func(kv string) bool {
		for _, e := range env {
			if e == kv {
				return true
			}
		}
		return false
	}

	assert.True(has("SLAVE_IP=10.0.0.1"))
	assert.True(has("JOB_ID=42"))
	assert.True(has("A=override"), "env_overrides must win over env_defaults")
	assert.True(has("B=default"))
}

func TestSnapshotPersistedAfterEveryMutation(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	dataDir := t.TempDir()
	st, err := New(Config{DataDir: dataDir, LogDir: t.TempDir()})
	require.NoError(err)

	require.NoError(st.AddWorker("10.0.0.1", nil))

	reloaded, err := New(Config{DataDir: dataDir, LogDir: t.TempDir()})
	require.NoError(err)
	require.Len(reloaded.Status().Slaves, 1)
	assert.Equal("10.0.0.1", reloaded.Status().Slaves[0].Address)

	_, statErr := filepath.Glob(filepath.Join(dataDir, "server_context.json"))
	assert.NoError(statErr)
}
