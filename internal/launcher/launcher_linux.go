package launcher

import "syscall"

// detachedSysProcAttr starts the child in a new session so it is not killed
// when the daemon's own session receives a signal (spec §3: "spawns the
// script as a detached child process").
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
