// Package worker defines the domain entities the dispatcher schedules work
// onto: registered remote hosts, the jobs waiting to run, and the runtime
// record of a job that is currently running.
package worker

import (
	"encoding/json"
	"maps"
)

// JobRequest is a queued, not-yet-assigned unit of work. Two requests are the
// same job for removal purposes iff Argv and EnvOverrides are structurally
// equal.
type JobRequest struct {
	Argv         []string
	EnvOverrides map[string]string
}

// MarshalJSON encodes a JobRequest as the documented wire pair
// [argv, env_overrides], not as an object (spec §4.1 "job_waitlist").
func (r JobRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{r.Argv, r.EnvOverrides})
}

// UnmarshalJSON decodes the [argv, env_overrides] wire pair.
func (r *JobRequest) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &r.Argv); err != nil {
		return err
	}
	if pair[1] == nil || string(pair[1]) == "null" {
		r.EnvOverrides = nil
		return nil
	}
	return json.Unmarshal(pair[1], &r.EnvOverrides)
}

// Equal reports whether r and other represent the same job submission.
func (r JobRequest) Equal(other JobRequest) bool {
	if len(r.Argv) != len(other.Argv) {
		return false
	}
	for i, a := range r.Argv {
		if other.Argv[i] != a {
			return false
		}
	}
	if len(r.EnvOverrides) != len(other.EnvOverrides) {
		return false
	}
	for k, v := range r.EnvOverrides {
		if other.EnvOverrides[k] != v {
			return false
		}
	}
	return true
}

// JobInfo is the runtime record of a job that has been assigned to a worker
// and spawned. ID is the millisecond timestamp at launch, which doubles as
// the JOB_ID environment variable handed to the child process.
type JobInfo struct {
	ID           int64             `json:"id"`
	Argv         []string          `json:"argv"`
	EnvOverrides map[string]string `json:"env_overrides"`
	PID          int               `json:"pid"`
	LogFile      string            `json:"log_file"`
}

// Worker is a remote execution host registered with the dispatcher. At most
// one JobInfo runs on a worker at a time.
type Worker struct {
	Address           string            `json:"ip"`
	EnvDefaults       map[string]string `json:"envs"`
	Status            Status            `json:"status"`
	RunningJob        *JobInfo          `json:"running_job"`
	RemoveAfterFinish bool              `json:"remove_after_finish,omitempty"`

	// shutdown is transient (never serialized): closing it asks this
	// worker's supervisor goroutine, if any, to detach without mutating
	// worker state. Reconstructed fresh by associate() after a snapshot
	// load, per the store's reattachment contract.
	shutdown chan struct{} `json:"-"`

	// joined is transient: closed by the supervisor goroutine the moment
	// its poll loop returns, before it touches store state. A caller that
	// wants to wait for only this worker's supervisor to stop observing
	// RunningJob (without blocking on unrelated workers, and without
	// blocking on the completion path's own lock acquisition) selects on
	// this instead of a store-wide WaitGroup.
	joined chan struct{} `json:"-"`

	// supervising is transient: true while a supervisor goroutine owns this
	// worker's RunningJob, enforcing invariant 4 (at most one supervisor per
	// worker at a time).
	supervising bool `json:"-"`
}

// Clone returns a deep copy of the worker, safe to hand to callers outside
// the store's lock (e.g. status() snapshots).
func (w *Worker) Clone() *Worker {
	cp := *w
	cp.EnvDefaults = maps.Clone(w.EnvDefaults)
	cp.shutdown = nil
	cp.supervising = false
	if w.RunningJob != nil {
		job := *w.RunningJob
		job.Argv = append([]string(nil), w.RunningJob.Argv...)
		job.EnvOverrides = maps.Clone(w.RunningJob.EnvOverrides)
		cp.RunningJob = &job
	}
	return &cp
}

// ShutdownSignal returns the channel a supervisor should select on to detect
// a cooperative shutdown request, lazily creating it.
func (w *Worker) ShutdownSignal() <-chan struct{} {
	if w.shutdown == nil {
		w.shutdown = make(chan struct{})
	}
	return w.shutdown
}

// RequestShutdown closes the worker's shutdown channel, if any supervisor is
// watching it. Safe to call multiple times; subsequent calls are no-ops.
func (w *Worker) RequestShutdown() {
	if w.shutdown == nil {
		return
	}
	select {
	case <-w.shutdown:
		// already closed
	default:
		close(w.shutdown)
	}
}

// ResetShutdownSignal replaces the shutdown channel, used when a worker is
// reattached to a running job after a snapshot load.
func (w *Worker) ResetShutdownSignal() {
	w.shutdown = make(chan struct{})
}

// ResetJoined creates a fresh joined signal for a new supervisor goroutine,
// called once per startSupervisor invocation.
func (w *Worker) ResetJoined() {
	w.joined = make(chan struct{})
}

// Joined returns the channel that closes once this worker's supervisor
// goroutine has returned from its poll loop.
func (w *Worker) Joined() <-chan struct{} {
	if w.joined == nil {
		w.joined = make(chan struct{})
	}
	return w.joined
}

// MarkJoined closes the joined channel. Safe to call multiple times.
func (w *Worker) MarkJoined() {
	if w.joined == nil {
		return
	}
	select {
	case <-w.joined:
	default:
		close(w.joined)
	}
}

// Supervising reports whether a supervisor goroutine currently owns this
// worker's running job.
func (w *Worker) Supervising() bool {
	return w.supervising
}

// SetSupervising marks or clears the supervisor-ownership flag.
func (w *Worker) SetSupervising(v bool) {
	w.supervising = v
}
