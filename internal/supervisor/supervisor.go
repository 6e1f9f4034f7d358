// Package supervisor implements the Job Lifecycle Supervisor: one goroutine
// per running job that polls for completion at ~1 Hz and cooperates with
// clean shutdown without orphaning worker state.
package supervisor

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tomhayes/dispatchd/internal/launcher"
)

// PollInterval is the supervisor's liveness-check cadence (spec §4.3: "polls
// at ≈1 Hz").
const PollInterval = time.Second

// Outcome is returned by Run to tell the caller what happened so it can
// perform the matching store mutation (which, per the store's lock
// discipline, the supervisor goroutine itself must not do directly).
type Outcome int

const (
	// OutcomeCompleted means the job process is gone (or its handle
	// reported exit); the caller should run the completion path.
	OutcomeCompleted Outcome = iota
	// OutcomeDetached means a shutdown signal arrived first; the caller
	// must leave worker state untouched so a future process can resume
	// monitoring it.
	OutcomeDetached
)

// Run blocks, polling pid (and, when non-nil, handle) for completion, until
// either the job finishes or shutdown closes. It never returns an error: any
// anomaly while checking liveness (e.g. a disappearing pid) is treated as
// completion, per spec §4.3 and §7 ("supervisor tasks never raise out of
// their loop").
func Run(pid int, handle *launcher.Handle, shutdown <-chan struct{}) Outcome {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		if !pidAlive(pid) {
			return OutcomeCompleted
		}
		if handle != nil && handle.Exited() {
			return OutcomeCompleted
		}

		select {
		case <-shutdown:
			return OutcomeDetached
		case <-ticker.C:
			// poll again
		}
	}
}

// pidAlive mirrors the original implementation's check_pid: signal 0 probes
// for existence without actually signaling the process. ESRCH means the pid
// is gone; any other outcome (including EPERM, which means it exists but is
// owned by someone else) counts as alive.
func pidAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return !errors.Is(err, unix.ESRCH)
}
