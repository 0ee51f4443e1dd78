// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "file.json")

	require.NoError(t, AtomicWriteFile(path, []byte("first"), 0600))
	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestAppendSync_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "append.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	defer f.Close()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			if _, err := AppendSync(f, []byte("line\n"), 0); err != nil {
				t.Errorf("AppendSync: %v", err)
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 20, strings.Count(string(data), "line\n"))

	size, err := AppendSync(f, []byte("x\n"), 0)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)+2), size)
}

func TestMaskIdentifier(t *testing.T) {
	masked := MaskIdentifier("alice")
	require.True(t, strings.HasPrefix(masked, "hash:"))
	require.Len(t, masked, len("hash:")+12)
	require.NotContains(t, masked, "alice")
	require.Equal(t, masked, MaskIdentifier("alice"))
}

func TestNewIDs(t *testing.T) {
	require.NotEqual(t, NewID(), NewID())
	require.True(t, strings.HasPrefix(NewNodeID(), "node-"))
}

func TestTruncateWidth(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 0, ""},
		{"日本語テキスト", 7, "日本..."},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, TruncateWidth(tt.in, tt.width), tt.in)
	}
	require.Equal(t, "ab   ", PadRight("ab", 5))
}
