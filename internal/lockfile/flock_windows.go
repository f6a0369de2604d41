//go:build windows
// +build windows

package lockfile

import (
	"os"
	"syscall"
)

// tryLock acquires an exclusive lock on a file using LockFileEx without blocking.
func tryLock(f *os.File) error {
	handle := syscall.Handle(f.Fd())
	var overlapped syscall.Overlapped

	const (
		lockfileExclusiveLock   = 0x2
		lockfileFailImmediately = 0x1
	)

	return syscall.LockFileEx(
		handle,
		lockfileExclusiveLock|lockfileFailImmediately,
		0, // reserved
		1, // lock 1 byte
		0, // high-order 32 bits of byte range
		&overlapped,
	)
}

// unlock releases the lock on a file.
func unlock(f *os.File) error {
	handle := syscall.Handle(f.Fd())
	var overlapped syscall.Overlapped

	return syscall.UnlockFileEx(
		handle,
		0, // reserved
		1, // unlock 1 byte
		0, // high-order 32 bits of byte range
		&overlapped,
	)
}

// IsAlive reports whether the process with the given PID exists.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// FindProcess fails for missing PIDs on Windows.
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}
