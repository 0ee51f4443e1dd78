// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// DefaultLockTimeout bounds how long AppendSync waits for the file lock.
const DefaultLockTimeout = 2 * time.Second

// ErrLockTimeout is returned when a file lock could not be taken in time.
var ErrLockTimeout = errors.New("timed out waiting for file lock")

// AtomicWriteFile replaces path with data so that readers see either the old
// file or the complete new one, never a partial write. The data is written to
// a temp file in the same directory, fsynced, chmodded and renamed over the
// target; the parent directory is fsynced afterwards so the rename survives a
// crash.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	// Same directory so the rename stays on one filesystem.
	f, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := f.Name()

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync data to disk: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := os.Rename(tempPath, absPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true

	return SyncDir(dir)
}

// SyncDir fsyncs a directory so that renames and creations inside it are
// durable. It is a no-op on Windows, which cannot sync directories.
func SyncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}

// AppendSync appends data to an already open file while holding an exclusive
// advisory lock on it, then fsyncs. It returns the file size after the write.
// A lock held elsewhere for longer than lockTimeout fails the append with
// ErrLockTimeout; a non-positive lockTimeout means DefaultLockTimeout.
func AppendSync(f *os.File, data []byte, lockTimeout time.Duration) (int64, error) {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	if err := LockFile(f, lockTimeout); err != nil {
		return 0, fmt.Errorf("failed to lock %s: %w", f.Name(), err)
	}
	defer UnlockFile(f)

	if _, err := f.Write(data); err != nil {
		return 0, fmt.Errorf("failed to append to %s: %w", f.Name(), err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync %s: %w", f.Name(), err)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", f.Name(), err)
	}
	return info.Size(), nil
}
