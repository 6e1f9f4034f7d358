package launcher

import (
	"errors"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// TerminatePID sends SIGTERM to a process this instance did not spawn
// itself (e.g. one reattached from a snapshot after a restart, which has no
// Handle), then escalates to SIGKILL if it hasn't exited within
// TerminationGrace. Used by remove_slave --kill (spec §4.3 Kill semantics).
func TerminatePID(pid int) error {
	if !pidAlive(pid) {
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	if err := signalPID(proc, syscall.SIGTERM); err != nil {
		return err
	}

	deadline := time.Now().Add(TerminationGrace)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if !pidAlive(pid) {
		return nil
	}

	return signalPID(proc, syscall.SIGKILL)
}

func signalPID(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// pidAlive mirrors the original implementation's check_pid: signal 0 probes
// for existence without signaling the process.
func pidAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return !errors.Is(err, unix.ESRCH)
}
