// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !unix

package util

import (
	"os"
	"time"
)

// LockFile is a no-op where flock is unavailable; appends are still
// serialized by the caller's mutex.
func LockFile(f *os.File, timeout time.Duration) error { return nil }

// UnlockFile is a no-op where flock is unavailable.
func UnlockFile(f *os.File) error { return nil }
