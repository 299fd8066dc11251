//go:build unix

package ptyhost

import "syscall"

// setsid puts the child in its own process group so a single teardown
// signal reaches every descendant it may have spawned.
func setsid() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

func signalGroup(pid int, sig syscall.Signal) {
	// Negative pid targets the whole process group created by setsid.
	_ = syscall.Kill(-pid, sig)
}
