// Package lockfile coordinates the single dictation session between the
// begin and end processes.
//
// The lock is a kernel advisory lock held on the PID file for the whole
// life of the begin process. The kernel drops it automatically when the
// holder dies, so a crashed session never wedges the next one. The file
// content is the holder's PID in ASCII so the end process knows where to
// send its stop signal.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Lockfile errors
var (
	// ErrLocked is returned by Acquire when a live session holds the lock.
	ErrLocked = errors.New("lockfile: session already active")

	// ErrNotRunning is returned by Read when no session lock exists.
	ErrNotRunning = errors.New("lockfile: no active session")
)

// PermLockFile is the permission for the session lock file.
const PermLockFile os.FileMode = 0600

// Lock is an acquired session lock. Release it exactly once when the
// session ends; extra calls are no-ops.
type Lock struct {
	path string
	file *os.File
	pid  int

	mu            sync.Mutex
	released      bool
	reclaimedFrom int
}

// Acquire takes the session lock at path for the calling process.
// It fails with ErrLocked if another live process holds it. A lock file
// left behind by a dead process is reclaimed silently.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, PermLockFile)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := tryLock(f); err != nil {
		// Someone holds the lock. Read who for the error message.
		holder, _ := readPid(f)
		f.Close()
		if holder > 0 {
			return nil, fmt.Errorf("%w (pid %d)", ErrLocked, holder)
		}
		return nil, ErrLocked
	}

	// We hold the lock. Any PID already in the file belonged to a
	// process that died without releasing; remember it so the caller
	// can log the reclaim.
	stale, _ := readPid(f)

	pid := os.Getpid()
	if err := f.Truncate(0); err != nil {
		unlock(f)
		f.Close()
		return nil, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)), 0); err != nil {
		unlock(f)
		f.Close()
		return nil, fmt.Errorf("write pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		unlock(f)
		f.Close()
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	l := &Lock{
		path: path,
		file: f,
		pid:  pid,
	}
	if stale > 0 && stale != pid {
		l.reclaimedFrom = stale
	}
	return l, nil
}

// Release drops the lock and removes the lock file. It is safe to call
// more than once.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	l.released = true

	// Remove before unlocking so a racing Acquire cannot see an empty
	// unlocked file.
	rmErr := os.Remove(l.path)
	unlockErr := unlock(l.file)
	closeErr := l.file.Close()

	if rmErr != nil && !os.IsNotExist(rmErr) {
		return fmt.Errorf("remove lock file: %w", rmErr)
	}
	if unlockErr != nil {
		return fmt.Errorf("unlock: %w", unlockErr)
	}
	return closeErr
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Pid returns the PID recorded in the lock.
func (l *Lock) Pid() int {
	return l.pid
}

// ReclaimedFrom returns the dead holder's PID when the lock file was
// reclaimed from a crashed session, or 0 for a clean acquire.
func (l *Lock) ReclaimedFrom() int {
	return l.reclaimedFrom
}

// Read returns the PID recorded in the lock file at path.
// Returns ErrNotRunning if the file does not exist.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("read lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in lock file %s: %w", path, err)
	}
	return pid, nil
}

// Probe reports the recorded holder PID and whether it is alive.
// Returns ErrNotRunning if no lock file exists.
func Probe(path string) (pid int, alive bool, err error) {
	pid, err = Read(path)
	if err != nil {
		return 0, false, err
	}
	return pid, IsAlive(pid), nil
}

// readPid parses a PID out of an open lock file without moving the
// file offset used for writing.
func readPid(f *os.File) (int, error) {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0, err
	}
	return pid, nil
}
