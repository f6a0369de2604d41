// Package security provides file permission enforcement and atomic writes
// for files that hold API keys or other credentials.
//
// The config file and the optional .env file both carry transcription and
// rewrite API keys, so they are written with owner-only permissions and
// replaced atomically. A partially written config must never be observable,
// and a crash mid-write must not leave a world-readable temp file behind.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// File and directory permission modes.
const (
	// PermSecretFile is for files containing API keys or credentials.
	PermSecretFile os.FileMode = 0600

	// PermSecretDir is for directories containing secret files.
	PermSecretDir os.FileMode = 0700

	// PermPublicFile is for files safe to share, such as directive documents.
	PermPublicFile os.FileMode = 0644

	// PermPublicDir is for directories holding public files.
	PermPublicDir os.FileMode = 0755
)

// ErrInsecurePermissions indicates a secret-bearing file is readable by
// group or other users.
var ErrInsecurePermissions = errors.New("security: insecure file permissions")

// WriteFileAtomic writes data to path with the given permissions using a
// temp file in the same directory followed by a rename. Readers see either
// the old content or the new content, never a partial write. Parent
// directories are created as needed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermFor(perm)); err != nil {
		return fmt.Errorf("security: create directory: %w", err)
	}

	suffix, err := randomSuffix()
	if err != nil {
		return fmt.Errorf("security: generate temp suffix: %w", err)
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), suffix))

	// O_EXCL so a colliding temp file from another writer fails loudly
	// instead of being silently truncated.
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("security: create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("security: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("security: sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("security: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("security: rename temp file: %w", err)
	}
	return nil
}

// CheckSecretFile verifies that the file at path is not readable by group
// or other users. A missing file is not an error; the caller decides
// whether the file is required. Permission bits are not meaningful on
// Windows, so the check passes there.
func CheckSecretFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("security: stat %s: %w", path, err)
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return fmt.Errorf("%w: %s has mode %04o, want %04o", ErrInsecurePermissions, path, mode, PermSecretFile)
	}
	return nil
}

// dirPermFor picks the directory mode matching the secrecy of the file
// being written into it.
func dirPermFor(filePerm os.FileMode) os.FileMode {
	if filePerm&0077 == 0 {
		return PermSecretDir
	}
	return PermPublicDir
}

func randomSuffix() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
