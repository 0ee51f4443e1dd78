// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jeranaias/authguard/internal/security/audit"
	"github.com/jeranaias/authguard/internal/security/crypto"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"lowercase", "alice", "alice", false},
		{"case folded", "Alice", "alice", false},
		{"trimmed", "  bob\t", "bob", false},
		{"fullwidth", "ａｌｉｃｅ", "alice", false},
		{"empty", "   ", "", true},
		{"inner space", "al ice", "", true},
		{"colon", "al:ice", "", true},
		{"control", "al\x00ice", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeUsername(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidUsername)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCredentialStore_RegisterAndVerify(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Register("Alice", "s3cret"))
	require.True(t, store.UserExists("alice"))
	require.ErrorIs(t, store.Register("ALICE", "other"), ErrUserExists)
	require.ErrorIs(t, store.Register("bob", ""), ErrInvalidPassword)

	ok, err := store.VerifyPassword("alice", "s3cret")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.VerifyPassword("alice", "wrong")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.VerifyPassword("nobody", "s3cret")
	require.ErrorIs(t, err, ErrCredentialNotFound)
	require.False(t, ok)
}

func TestCredentialStore_SaveLoadRoundTrip(t *testing.T) {
	store, path := newTestStore(t)
	require.NoError(t, store.Register("alice", "s3cret"))
	require.NoError(t, store.Register("bob", "hunter2"))
	require.NoError(t, store.AssignRole("alice", "admin"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "s3cret")
	require.NotContains(t, string(data), "hunter2")

	var file credentialFile
	require.NoError(t, json.Unmarshal(data, &file))
	require.Equal(t, credentialFileVersion, file.Version)
	require.Len(t, file.Users, 2)
	require.Equal(t, "alice", file.Users[0].Username)
	require.Equal(t, []string{"admin"}, file.Users[0].Roles)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	reloaded, err := NewCredentialStore(path, testSealer(t))
	require.NoError(t, err)
	require.NoError(t, reloaded.Load())
	require.Equal(t, []string{"alice", "bob"}, reloaded.Usernames())
	require.True(t, reloaded.HasRole("alice", "admin"))

	ok, err := reloaded.VerifyPassword("bob", "hunter2")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCredentialStore_LoadMissingFile(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Load())
	require.Empty(t, store.Usernames())
}

func TestCredentialStore_CorruptRecordSkipped(t *testing.T) {
	store, path := newTestStore(t)
	require.NoError(t, store.Register("alice", "s3cret"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var file credentialFile
	require.NoError(t, json.Unmarshal(data, &file))
	file.Users = append(file.Users,
		fileUser{Username: "mallory", Record: "00ff00ff"},
		fileUser{Username: "eve", Record: "not hex"})
	data, err = json.Marshal(file)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	rec := &recordingAuditor{}
	reloaded, err := NewCredentialStore(path, testSealer(t), WithStoreAuditor(rec))
	require.NoError(t, err)
	require.NoError(t, reloaded.Load())

	require.Equal(t, []string{"alice"}, reloaded.Usernames())
	require.Equal(t, 2, reloaded.Corrupted())
	require.Equal(t, []string{audit.ActionCredentialCorrupt, audit.ActionCredentialCorrupt}, rec.actions())
	require.Equal(t, audit.LevelCritical, rec.last().Level)
}

func TestCredentialStore_WrongKeyCorruptsAll(t *testing.T) {
	store, path := newTestStore(t)
	require.NoError(t, store.Register("alice", "s3cret"))

	other, err := crypto.NewSealer(testMaster, "some/other/purpose")
	require.NoError(t, err)
	reloaded, err := NewCredentialStore(path, other)
	require.NoError(t, err)
	require.NoError(t, reloaded.Load())
	require.Empty(t, reloaded.Usernames())
	require.Equal(t, 1, reloaded.Corrupted())
}

func TestCredentialStore_LegacyRecordWithoutIterations(t *testing.T) {
	sealer := testSealer(t)
	salt := []byte("0123456789abcdef")
	hash := crypto.DeriveKey([]byte("old-password"), salt, LegacyIterations, HashBits)
	sealed, err := sealer.Seal([]byte(hex.EncodeToString(hash) + ":" + hex.EncodeToString(salt)))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "user_db.json")
	data, err := json.Marshal(credentialFile{Version: 1, Users: []fileUser{{
		Username: "carol",
		Record:   hex.EncodeToString(sealed),
	}}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	store, err := NewCredentialStore(path, sealer)
	require.NoError(t, err)
	require.NoError(t, store.Load())

	ok, err := store.VerifyPassword("carol", "old-password")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCredentialStore_ChangePasswordAndDelete(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Register("alice", "first"))

	require.NoError(t, store.ChangePassword("alice", "second"))
	ok, _ := store.VerifyPassword("alice", "first")
	require.False(t, ok)
	ok, _ = store.VerifyPassword("alice", "second")
	require.True(t, ok)

	require.ErrorIs(t, store.ChangePassword("bob", "x"), ErrCredentialNotFound)

	require.NoError(t, store.Delete("alice"))
	require.False(t, store.UserExists("alice"))
	require.ErrorIs(t, store.Delete("alice"), ErrCredentialNotFound)
}

func TestCredentialStore_Roles(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Register("alice", "pw"))

	require.NoError(t, store.AssignRole("alice", "operator"))
	require.NoError(t, store.AssignRole("alice", "admin"))
	roles, err := store.Roles("alice")
	require.NoError(t, err)
	require.Equal(t, []string{"admin", "operator"}, roles)

	require.NoError(t, store.RevokeRole("alice", "admin"))
	require.NoError(t, store.RevokeRole("alice", "never-held"))
	require.False(t, store.HasRole("alice", "admin"))
	require.True(t, store.HasRole("alice", "operator"))

	require.Error(t, store.AssignRole("alice", " "))
	_, err = store.Roles("ghost")
	require.True(t, errors.Is(err, ErrCredentialNotFound))
}

func TestCredentialStore_FailedSaveRollsBack(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))
	path := filepath.Join(blocker, "user_db.json")
	store, err := NewCredentialStore(path, testSealer(t), WithIterations(testIterations))
	require.NoError(t, err)

	require.Error(t, store.Register("alice", "pw"))
	require.False(t, store.UserExists("alice"))
}
