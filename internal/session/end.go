package session

import (
	"errors"
	"fmt"
	"os"
	"time"

	"dictate/internal/lockfile"
	"dictate/internal/logging"
)

// Status describes what the pid lock says about the session.
type Status struct {
	// Running means a live process holds the lock.
	Running bool

	// Pid is the process recorded in the lock file, zero when none.
	Pid int

	// Stale means a lock file exists but its process is gone.
	Stale bool

	// Since is when the lock file was written, which is when recording
	// started. Zero when no session is running.
	Since time.Time
}

// Current reports the session state recorded at pidFile. A missing
// lock file is a clean "not running", not an error.
func Current(pidFile string) (Status, error) {
	pid, alive, err := lockfile.Probe(pidFile)
	if errors.Is(err, lockfile.ErrNotRunning) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("session: probe lock: %w", err)
	}

	status := Status{Running: alive, Pid: pid, Stale: !alive}
	if alive {
		if info, err := os.Stat(pidFile); err == nil {
			status.Since = info.ModTime()
		}
	}
	return status, nil
}

// End tells the recording process to stop and deliver its text. It
// returns as soon as the signal is sent; the recording process does
// the transcription and typing on its own time. Ending when nothing
// is running is not an error.
func End(pidFile string, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("session")

	pid, alive, err := lockfile.Probe(pidFile)
	if errors.Is(err, lockfile.ErrNotRunning) {
		logger.Info("no active session")
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: probe lock: %w", err)
	}

	if !alive {
		logger.Warn("removing lock left by dead session", "pid", pid)
		if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("session: remove stale lock: %w", err)
		}
		return nil
	}

	if err := stopProcess(pid); err != nil {
		return fmt.Errorf("session: signal pid %d: %w", pid, err)
	}
	logger.Info("stop signal sent", "pid", pid)
	return nil
}
