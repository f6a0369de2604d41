//go:build unix
// +build unix

package session

import "syscall"

// stopProcess delivers the stop signal the recording process suspends
// on. SIGTERM so the receiver can finish the delivery pipeline before
// exiting.
func stopProcess(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}
