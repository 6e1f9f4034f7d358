//go:build !linux

package launcher

import "syscall"

// detachedSysProcAttr is here for non-linux builds so the package still
// compiles; Setsid is a POSIX concept supported the same way on darwin/bsd.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
