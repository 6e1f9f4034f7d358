// Package launcher is the Process Launcher collaborator: it spawns a shell
// command in a new session, routes combined stdout+stderr to a file, and
// returns a Handle that reports the PID and observes the child's exit
// without the caller needing to poll the OS directly.
package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

// Launcher spawns detached child processes. The default implementation,
// New, uses os/exec with a new session (setsid) so the child survives the
// daemon's own process group.
type Launcher struct{}

// New returns a Launcher that spawns real OS processes.
func New() *Launcher {
	return &Launcher{}
}

// Launch runs argv (argv[0] is a relative script path such as "./job.sh")
// with the given environment, writing combined stdout+stderr to logPath.
// The process is started in a new session so it is not tied to the
// daemon's controlling terminal or process group.
func (l *Launcher) Launch(argv []string, env []string, logPath string) (*Handle, error) {
	if len(argv) == 0 {
		return nil, errors.New("launcher: argv must not be empty")
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("launcher: opening log file: %w", err)
	}

	cmd := exec.Command("/bin/sh", "-c", strings.Join(argv, " "))
	cmd.Env = env
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachedSysProcAttr()

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("launcher: starting command: %w", err)
	}

	h := &Handle{
		pid:     cmd.Process.Pid,
		cmd:     cmd,
		logFile: logFile,
		done:    make(chan struct{}),
	}

	go h.wait()

	return h, nil
}

// Handle observes one launched child process.
type Handle struct {
	pid     int
	cmd     *exec.Cmd
	logFile *os.File

	done    chan struct{}
	exited  atomic.Bool
	waitErr error
}

// PID returns the OS process id of the launched child.
func (h *Handle) PID() int {
	return h.pid
}

// Exited reports whether the child has been observed to exit via Wait.
// This is the "explicit process handle" check in the supervisor's
// completion test (spec §4.3 step 2); it can report true even if the pid has
// been recycled by the OS for an unrelated process.
func (h *Handle) Exited() bool {
	return h.exited.Load()
}

// Done returns a channel that closes once the child has exited and its log
// file has been closed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) wait() {
	h.waitErr = h.cmd.Wait()
	h.exited.Store(true)
	h.logFile.Close()
	close(h.done)
}

// Kill sends sig to the child process (not to its process group). It is
// idempotent: once the process is known to have exited, Kill is a no-op.
func (h *Handle) Kill(sig os.Signal) error {
	if h.Exited() {
		return nil
	}
	if h.cmd.Process == nil {
		return nil
	}
	err := h.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// TerminationGrace is how long Terminate waits after SIGTERM before
// escalating to SIGKILL (spec §9 Open Question: "the source calls kill with
// only the pid and no signal number"; this rewrite resolves that by sending
// SIGTERM first and only escalating if the process ignores it).
const TerminationGrace = 5 * time.Second

// Terminate asks the process to exit with SIGTERM, then escalates to
// SIGKILL if it hasn't exited within TerminationGrace. It blocks until the
// process has exited or the grace period has elapsed and SIGKILL was sent.
func (h *Handle) Terminate() error {
	if err := h.Kill(syscall.SIGTERM); err != nil {
		return err
	}

	select {
	case <-h.Done():
		return nil
	case <-time.After(TerminationGrace):
	}

	return h.Kill(syscall.SIGKILL)
}
