// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build unix

package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestAppendSync_LockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	defer f.Close()

	holder, err := os.Open(path)
	require.NoError(t, err)
	defer holder.Close()
	require.NoError(t, unix.Flock(int(holder.Fd()), unix.LOCK_EX))

	start := time.Now()
	_, err = AppendSync(f, []byte("line\n"), 50*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)
	require.Less(t, time.Since(start), time.Second)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Empty(t, data)

	require.NoError(t, unix.Flock(int(holder.Fd()), unix.LOCK_UN))
	size, err := AppendSync(f, []byte("line\n"), 50*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(5), size)
}
