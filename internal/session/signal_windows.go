//go:build windows
// +build windows

package session

import "os"

// stopProcess terminates the recording process. Windows has no
// SIGTERM delivery, so the capture pipeline's own shutdown handling
// is all the grace it gets.
func stopProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
