// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build unix

package util

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// lockPollInterval is how often a contended lock is retried.
const lockPollInterval = 10 * time.Millisecond

// LockFile takes an exclusive advisory lock on f, giving up with
// ErrLockTimeout after timeout. The audit log has a single writing process;
// the lock keeps other tools from reading or rotating it mid-line.
func LockFile(f *os.File, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		switch err {
		case nil:
			return nil
		case unix.EINTR:
			continue
		case unix.EWOULDBLOCK:
		default:
			return err
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w after %v", ErrLockTimeout, timeout)
		}
		time.Sleep(lockPollInterval)
	}
}

// UnlockFile releases a lock taken with LockFile.
func UnlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
