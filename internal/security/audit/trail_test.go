// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"bytes"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jeranaias/authguard/internal/security/crypto"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestTrail_AppendWritesEncryptedLines(t *testing.T) {
	trail, path := openTestTrail(t)

	ev, err := trail.Append(LevelWarning, "Failed login for alice",
		WithSubject("alice"), WithAction(ActionLoginFailed),
		WithDetails(map[string]string{"remaining": "4"}))
	require.NoError(t, err)
	require.Equal(t, uint64(2), ev.ID) // 1 is AUDIT_OPENED
	require.Equal(t, "node-a", ev.Origin)
	require.Equal(t, "alice", ev.Subject)

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	for _, line := range lines {
		_, err := hex.DecodeString(line)
		require.NoError(t, err)
		require.NotContains(t, line, "alice")
	}

	// The same event twice encrypts differently.
	_, err = trail.Append(LevelWarning, "Failed login for alice", WithSubject("alice"))
	require.NoError(t, err)
	lines = readLines(t, path)
	require.NotEqual(t, lines[1][:32], lines[2][:32])

	view, err := trail.ViewLogs()
	require.NoError(t, err)
	require.Zero(t, view.Failures)
	require.Len(t, view.Events, 3)
	require.Equal(t, ActionAuditOpened, view.Events[0].Action)
	require.Contains(t, view.Lines[1], "[WARNING] Failed login for alice")
	require.Contains(t, view.Lines[1], "user=alice")
	require.Contains(t, view.Lines[1], "remaining=4")
}

func TestTrail_ViewLogsSkipsCorruptLine(t *testing.T) {
	trail, path := openTestTrail(t)
	for i := 0; i < 5; i++ {
		failLogin(t, trail, "bob")
	}

	lines := readLines(t, path)
	require.Len(t, lines, 6)

	// Flip one hex digit in the middle line.
	mid := []byte(lines[3])
	if mid[40] == '0' {
		mid[40] = '1'
	} else {
		mid[40] = '0'
	}
	lines[3] = string(mid)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600))

	view, err := trail.ViewLogs()
	require.NoError(t, err)
	require.Len(t, view.Lines, 5)
	require.Equal(t, 1, view.Failures)
	require.Equal(t, uint64(1), trail.DecryptFailures())

	// Non-hex garbage is also just one failure.
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\nnot-hex\n"), 0600))
	view, err = trail.ViewLogs()
	require.NoError(t, err)
	require.Len(t, view.Lines, 5)
	require.Equal(t, 2, view.Failures)
}

func TestTrail_GetCritical(t *testing.T) {
	trail, _ := openTestTrail(t)

	failLogin(t, trail, "alice")
	_, err := trail.Append(LevelCritical, "Account locked", WithSubject("alice"), WithAction(ActionAccountLocked))
	require.NoError(t, err)
	_, err = trail.Append(LevelInfo, "Login ok", WithSubject("bob"), WithAction(ActionLoginSuccess))
	require.NoError(t, err)

	critical := trail.GetCritical()
	require.Len(t, critical, 1)
	require.Equal(t, "Account locked", critical[0].Message)

	// Returned events are copies.
	all := trail.Events()
	all[0].Message = "changed"
	require.NotEqual(t, "changed", trail.Events()[0].Message)

	stats := trail.Stats()
	require.Equal(t, 4, stats.Events)
	require.Equal(t, 1, stats.Critical)
	require.Positive(t, stats.LogSize)
}

func TestTrail_KeyNeverInPlaintext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	keyHex := hex.EncodeToString(testMaster)

	trail, path := openTestTrail(t,
		WithLogger(logger),
		WithMirror(true),
		WithRedactor(NewKeyRedactor(testMaster)),
	)

	ev, err := trail.Append(LevelCritical, "rotated key "+keyHex,
		WithDetails(map[string]string{"note": "password=hunter2"}))
	require.NoError(t, err)
	require.NotContains(t, ev.Message, keyHex)
	require.Contains(t, ev.Message, "[KEY_REDACTED]")
	require.Equal(t, "[PASSWORD_REDACTED]", ev.Details["note"])

	require.NotContains(t, buf.String(), keyHex)
	require.NotContains(t, buf.String(), "hunter2")
	require.Contains(t, buf.String(), "level=ERROR")

	view, err := trail.ViewLogs()
	require.NoError(t, err)
	for _, line := range view.Lines {
		require.NotContains(t, line, keyHex)
	}
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), keyHex)
}

func TestTrail_ResumesIDsAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	codec, err := NewSealedCodec(testMaster)
	require.NoError(t, err)

	first, err := Open(path, codec, WithNode("node-a"))
	require.NoError(t, err)
	failLogin(t, first, "alice")
	require.NoError(t, first.Close())

	_, err = first.Append(LevelInfo, "after close")
	require.True(t, errors.Is(err, ErrClosed))

	second, err := Open(path, codec, WithNode("node-a"))
	require.NoError(t, err)
	defer second.Close()

	ev, err := second.Append(LevelInfo, "next")
	require.NoError(t, err)
	require.Equal(t, uint64(4), ev.ID)

	view, err := second.ViewLogs()
	require.NoError(t, err)
	require.Len(t, view.Events, 4)
}

func TestTrail_LegacyCodec(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	iv := []byte("abcdefghijklmnop")
	codec, err := NewLegacyCodec(key, iv)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "legacy.log")
	trail, err := Open(path, codec, WithNode("n1"))
	require.NoError(t, err)
	defer trail.Close()
	failLogin(t, trail, "carol")

	// Lines are hex(AES-CBC) under the fixed key and IV.
	lines := readLines(t, path)
	raw, err := hex.DecodeString(lines[1])
	require.NoError(t, err)
	plain, err := crypto.Decrypt(raw, key, iv)
	require.NoError(t, err)
	require.Contains(t, string(plain), `"subject":"carol"`)

	// Lines written by older deployments are plain text, not JSON.
	old, err := codec.Encode([]byte("[2024-01-01 00:00:00] [INFO] legacy entry"))
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(old + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	view, err := trail.ViewLogs()
	require.NoError(t, err)
	require.Len(t, view.Lines, 3)
	require.Len(t, view.Events, 2)
	require.Equal(t, "[2024-01-01 00:00:00] [INFO] legacy entry", view.Lines[2])

	_, err = NewLegacyCodec(key[:16], iv)
	require.True(t, errors.Is(err, crypto.ErrInvalidKeyMaterial))
}

func TestLevel_Text(t *testing.T) {
	for _, l := range []Level{LevelInfo, LevelWarning, LevelCritical} {
		text, err := l.MarshalText()
		require.NoError(t, err)
		var back Level
		require.NoError(t, back.UnmarshalText(text))
		require.Equal(t, l, back)
	}
	_, err := ParseLevel("DEBUG")
	require.Error(t, err)
}
