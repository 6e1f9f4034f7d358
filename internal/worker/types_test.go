package worker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRequestEqual(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	a := JobRequest{Argv: []string{"./x.sh", "1"}, EnvOverrides: map[string]string{"A": "1"}}
	b := JobRequest{Argv: []string{"./x.sh", "1"}, EnvOverrides: map[string]string{"A": "1"}}
	assert.True(a.Equal(b))

	diffArgv := JobRequest{Argv: []string{"./x.sh", "2"}, EnvOverrides: map[string]string{"A": "1"}}
	assert.False(a.Equal(diffArgv))

	diffEnv := JobRequest{Argv: []string{"./x.sh", "1"}, EnvOverrides: map[string]string{"A": "2"}}
	assert.False(a.Equal(diffEnv))

	diffLen := JobRequest{Argv: []string{"./x.sh"}}
	assert.False(a.Equal(diffLen))
}

func TestJobRequestMarshalsAsTwoElementArray(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	r := JobRequest{Argv: []string{"./x.sh", "1"}, EnvOverrides: map[string]string{"A": "1"}}

	data, err := json.Marshal(r)
	require.NoError(err)
	assert.JSONEq(`[["./x.sh","1"],{"A":"1"}]`, string(data))

	var got JobRequest
	require.NoError(json.Unmarshal(data, &got))
	assert.True(r.Equal(got))
}

func TestWorkerCloneIsIndependent(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	w := &Worker{
		Address:     "10.0.0.1",
		EnvDefaults: map[string]string{"FOO": "bar"},
		Status:      StatusBusy,
		RunningJob: &JobInfo{
			ID:           123,
			Argv:         []string{"./x.sh"},
			EnvOverrides: map[string]string{"BAZ": "qux"},
			PID:          999,
		},
	}
	w.ResetShutdownSignal()
	w.SetSupervising(true)

	cp := w.Clone()
	require.NotNil(cp.RunningJob)

	cp.EnvDefaults["FOO"] = "mutated"
	cp.RunningJob.Argv[0] = "mutated"
	cp.RunningJob.EnvOverrides["BAZ"] = "mutated"

	assert.Equal("bar", w.EnvDefaults["FOO"])
	assert.Equal("./x.sh", w.RunningJob.Argv[0])
	assert.Equal("qux", w.RunningJob.EnvOverrides["BAZ"])
	assert.False(cp.Supervising(), "a clone must never report itself as supervised")
}

func TestWorkerShutdownSignalIsIdempotent(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	w := &Worker{}
	ch := w.ShutdownSignal()

	w.RequestShutdown()
	w.RequestShutdown() // must not panic on a double close

	select {
	case <-ch:
	default:
		t.Fatal("shutdown channel should be closed")
	}
}

func TestWorkerJoinedSignal(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	w := &Worker{}
	w.ResetJoined()
	joined := w.Joined()

	select {
	case <-joined:
		t.Fatal("joined should not be closed yet")
	default:
	}

	w.MarkJoined()
	w.MarkJoined() // idempotent

	select {
	case <-joined:
	default:
		t.Fatal("joined should be closed after MarkJoined")
	}
}

func TestStatusJSONRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	for _, s := range []Status{StatusIdle, StatusBusy, StatusRemoving, StatusRemoved} {
		data, err := json.Marshal(s)
		require.NoError(err)

		var got Status
		require.NoError(json.Unmarshal(data, &got))
		assert.Equal(s, got)
	}
}

func TestStatusUnmarshalUnknownDefaultsIdle(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	assert := assert.New(t)

	var s Status
	require.NoError(json.Unmarshal([]byte(`"bogus"`), &s))
	assert.Equal(StatusIdle, s)
}
