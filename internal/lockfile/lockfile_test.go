package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireWritesPid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictate.pid")

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	if lock.Pid() != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), lock.Pid())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("lock file not written: %v", err)
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		t.Fatalf("lock file content is not a pid: %q", string(data))
	}
	if pid != os.Getpid() {
		t.Errorf("expected pid %d in file, got %d", os.Getpid(), pid)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat lock file: %v", err)
	}
	if info.Mode().Perm() != PermLockFile {
		t.Errorf("expected mode %v, got %v", PermLockFile, info.Mode().Perm())
	}
}

func TestAcquireWhileHeldFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictate.pid")

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer lock.Release()

	_, err = Acquire(path)
	if err == nil {
		t.Fatal("second Acquire should have failed")
	}
	if !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
}

func TestAcquireReclaimsDeadHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictate.pid")

	// A lock file without a kernel lock is what a crashed session
	// leaves behind.
	if err := os.WriteFile(path, []byte("999999"), PermLockFile); err != nil {
		t.Fatalf("write stale lock file: %v", err)
	}

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire should reclaim stale lock: %v", err)
	}
	defer lock.Release()

	if lock.ReclaimedFrom() != 999999 {
		t.Errorf("expected reclaim from 999999, got %d", lock.ReclaimedFrom())
	}

	pid, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("expected our pid %d after reclaim, got %d", os.Getpid(), pid)
	}
}

func TestReleaseRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictate.pid")

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lock file still exists after Release")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictate.pid")

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("third Release should be a no-op, got %v", err)
	}
}

func TestReleaseThenReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictate.pid")

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	lock2, err := Acquire(path)
	if err != nil {
		t.Fatalf("reacquire after Release failed: %v", err)
	}
	defer lock2.Release()

	if lock2.ReclaimedFrom() != 0 {
		t.Errorf("clean reacquire should not report a reclaim, got %d", lock2.ReclaimedFrom())
	}
}

func TestReadMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictate.pid")

	_, err := Read(path)
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestReadGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictate.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), PermLockFile); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := Read(path)
	if err == nil {
		t.Error("expected error for garbage lock file")
	}
}

func TestReadTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictate.pid")
	if err := os.WriteFile(path, []byte("12345\n"), PermLockFile); err != nil {
		t.Fatalf("write: %v", err)
	}

	pid, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if pid != 12345 {
		t.Errorf("expected 12345, got %d", pid)
	}
}

func TestIsAlive(t *testing.T) {
	if !IsAlive(os.Getpid()) {
		t.Error("our own process should be alive")
	}
	if IsAlive(0) {
		t.Error("pid 0 should not count as alive")
	}
	if IsAlive(-1) {
		t.Error("negative pid should not count as alive")
	}
}

func TestProbe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictate.pid")

	_, _, err := Probe(path)
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	pid, alive, err := Probe(path)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), pid)
	}
	if !alive {
		t.Error("holder should be alive")
	}
}
