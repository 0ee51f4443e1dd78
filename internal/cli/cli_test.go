// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/authguard/internal/config"
	"github.com/jeranaias/authguard/internal/security/auth"
	"github.com/jeranaias/authguard/internal/security/crypto"
	"github.com/jeranaias/authguard/internal/security/network"
)

// =============================================================================
// ARG PARSER TESTS (args.go)
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantSub  string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name:    "simple subcommand",
			args:    []string{"view"},
			wantSub: "view",
		},
		{
			name:    "subcommand with flag",
			args:    []string{"view", "--lines", "50"},
			wantSub: "view",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("lines") != "50" {
					t.Errorf("Flag(lines) = %q, want %q", p.Flag("lines"), "50")
				}
			},
		},
		{
			name:    "flag with equals",
			args:    []string{"view", "--level=WARNING"},
			wantSub: "view",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("level") != "WARNING" {
					t.Errorf("Flag(level) = %q, want %q", p.Flag("level"), "WARNING")
				}
			},
		},
		{
			name:    "boolean flag does not swallow positional",
			args:    []string{"delete", "--confirm", "alice"},
			wantSub: "delete",
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("confirm") {
					t.Error("BoolFlag(confirm) should be true")
				}
				if p.Positional(1) != "alice" {
					t.Errorf("Positional(1) = %q, want alice", p.Positional(1))
				}
			},
		},
		{
			name:    "explicit boolean value",
			args:    []string{"view", "--json=false"},
			wantSub: "view",
			validate: func(t *testing.T, p *ArgParser) {
				if p.BoolFlag("json") {
					t.Error("BoolFlag(json) should be false")
				}
				if !p.HasFlag("json") {
					t.Error("HasFlag(json) should be true")
				}
			},
		},
		{
			name:    "mixed flags and positional",
			args:    []string{"grant", "alice", "--note", "x", "admin"},
			wantSub: "grant",
			validate: func(t *testing.T, p *ArgParser) {
				got := strings.Join(p.PositionalFrom(1), " ")
				if got != "alice admin" {
					t.Errorf("PositionalFrom(1) = %q, want %q", got, "alice admin")
				}
			},
		},
		{
			name:    "empty",
			args:    []string{},
			wantSub: "",
			validate: func(t *testing.T, p *ArgParser) {
				if p.PositionalCount() != 0 {
					t.Errorf("PositionalCount() = %d, want 0", p.PositionalCount())
				}
				if p.Positional(3) != "" {
					t.Error("out of range Positional should be empty")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewArgParser(tt.args)
			if p.Subcommand() != tt.wantSub {
				t.Errorf("Subcommand() = %q, want %q", p.Subcommand(), tt.wantSub)
			}
			if tt.validate != nil {
				tt.validate(t, p)
			}
		})
	}
}

func TestArgParser_IntFlags(t *testing.T) {
	p := NewArgParser([]string{"view", "--lines", "abc", "--bits", "128"})
	if _, err := p.FlagInt("lines"); err == nil {
		t.Error("FlagInt(lines) should fail on a non-number")
	}
	if got := p.FlagIntOrDefault("lines", 7); got != 7 {
		t.Errorf("FlagIntOrDefault = %d, want 7", got)
	}
	if got := p.FlagIntOrDefault("bits", 0); got != 128 {
		t.Errorf("FlagIntOrDefault(bits) = %d, want 128", got)
	}
	if _, err := ParseIntWithValidation("-3", "lines"); err == nil {
		t.Error("negative values should be rejected")
	}
}

// =============================================================================
// PARSE TESTS (cli.go)
// =============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		argv    []string
		wantCmd Command
		wantSub string
		check   func(t *testing.T, a Args)
	}{
		{argv: nil, wantCmd: CmdShell},
		{argv: []string{"login", "alice"}, wantCmd: CmdLogin, wantSub: "alice"},
		{argv: []string{"lock", "unlock", "bob"}, wantCmd: CmdLockout, wantSub: "unlock"},
		{argv: []string{"--version"}, wantCmd: CmdVersion},
		{argv: []string{"user", "list", "-h"}, wantCmd: CmdHelp},
		{argv: []string{"bogus"}, wantCmd: CmdHelp, wantSub: "bogus"},
		{
			argv:    []string{"audit", "view", "--json", "--config=/tmp/a.toml", "-v"},
			wantCmd: CmdAudit,
			wantSub: "view",
			check: func(t *testing.T, a Args) {
				if !a.JSON || !a.Verbose || a.ConfigPath != "/tmp/a.toml" {
					t.Errorf("global flags not parsed: %+v", a)
				}
				if len(a.Raw) != 1 || a.Raw[0] != "view" {
					t.Errorf("Raw = %v, want [view]", a.Raw)
				}
			},
		},
		{
			argv:    []string{"--config", "c.json", "keys", "rotate", "k1"},
			wantCmd: CmdKeys,
			wantSub: "rotate",
			check: func(t *testing.T, a Args) {
				if a.ConfigPath != "c.json" {
					t.Errorf("ConfigPath = %q", a.ConfigPath)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.argv, " "), func(t *testing.T) {
			cmd, a := Parse(tt.argv)
			if cmd != tt.wantCmd {
				t.Errorf("command = %d, want %d", cmd, tt.wantCmd)
			}
			if a.Subcommand != tt.wantSub {
				t.Errorf("Subcommand = %q, want %q", a.Subcommand, tt.wantSub)
			}
			if tt.check != nil {
				tt.check(t, a)
			}
		})
	}
}

// =============================================================================
// ERROR TESTS (errors.go)
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitSuccess},
		{errors.New("boom"), ExitGeneralError},
		{NewUsageError("bad", ""), ExitUsageError},
		{NewValidationError("lines", "x", "not a number"), ExitUsageError},
		{fmt.Errorf("wrap: %w", auth.ErrInvalidUsername), ExitUsageError},
		{config.ErrConfiguration, ExitConfigError},
		{auth.ErrInvalidCredentials, ExitAuthError},
		{&reportedError{err: auth.ErrLocked}, ExitAuthError},
		{network.ErrDeliveryFailed, ExitNetworkError},
		{ErrIntegrityMismatch, ExitSecurityError},
		{fmt.Errorf("get k1: %w", crypto.ErrKeyNotFound), ExitNotFoundError},
	}
	for _, tt := range tests {
		if got := GetExitCode(tt.err); got != tt.want {
			t.Errorf("GetExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestDisplayError(t *testing.T) {
	out := captureOutput(t)

	DisplayError(&reportedError{err: auth.ErrLocked}, false)
	require.Empty(t, out.String())

	DisplayError(NewUsageError("missing user", ""), true)
	var resp JSONResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "missing user", *resp.Error)
	require.Equal(t, "usage_error", resp.Data.(map[string]any)["error_type"])
}

// =============================================================================
// COMMAND TESTS
// =============================================================================

// captureOutput redirects stdout and stderr into one buffer.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	oldOut, oldErr := stdout, stderr
	stdout, stderr = &buf, &buf
	t.Cleanup(func() { stdout, stderr = oldOut, oldErr })
	return &buf
}

// setInput feeds piped stdin, one secret per line.
func setInput(t *testing.T, lines ...string) {
	t.Helper()
	old := stdin
	stdin = strings.NewReader(strings.Join(lines, "\n") + "\n")
	t.Cleanup(func() { stdin = old })
}

func run(argv ...string) error {
	cmd, a := Parse(argv)
	return Run(cmd, a)
}

// initConfig writes a fresh configuration with cheap hashing.
func initConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	captureOutput(t)
	require.NoError(t, run("--config", path, "config", "init"))

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)
	cfg.PasswordIterations = 1000
	cfg.Audit.Watch = false
	cfg.Audit.Mirror = false
	require.NoError(t, config.Save(cfg, path))
	return path
}

func decode(t *testing.T, buf *bytes.Buffer) JSONResponse {
	t.Helper()
	var resp JSONResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	buf.Reset()
	return resp
}

func TestConfigInit(t *testing.T) {
	path := initConfig(t)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	err = run("--config", path, "config", "init")
	require.Equal(t, ExitUsageError, GetExitCode(err))

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)
	out := captureOutput(t)
	require.NoError(t, run("--config", path, "config", "show"))
	require.NotContains(t, out.String(), cfg.Audit.Encryption.Key)
	require.Contains(t, out.String(), "[REDACTED]")
}

func TestUserRegisterAndLogin(t *testing.T) {
	path := initConfig(t)
	out := captureOutput(t)

	setInput(t, "correct horse")
	require.NoError(t, run("--config", path, "user", "register", "alice"))
	require.Contains(t, out.String(), "User alice registered")

	setInput(t, "correct horse")
	require.NoError(t, run("--config", path, "login", "alice"))
	require.Contains(t, out.String(), "Authentication successful")
	out.Reset()

	setInput(t, "wrong")
	err := run("--config", path, "--json", "login", "alice")
	require.Equal(t, ExitAuthError, GetExitCode(err))
	resp := decode(t, out)
	require.False(t, resp.Success)
	require.Equal(t, "REJECTED", resp.Data.(map[string]any)["outcome"])

	setInput(t, "x")
	err = run("--config", path, "login", "nobody")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	out.Reset()

	require.NoError(t, run("--config", path, "--json", "user", "list"))
	resp = decode(t, out)
	users := resp.Data.([]any)
	require.Len(t, users, 1)
	require.Equal(t, "alice", users[0].(map[string]any)["username"])

	require.NoError(t, run("--config", path, "audit", "view", "--user", "alice"))
	require.Contains(t, out.String(), "LOGIN_FAILED")
	require.Contains(t, out.String(), "LOGIN_SUCCESS")
}

func TestLockoutInSharedSession(t *testing.T) {
	path := initConfig(t)
	out := captureOutput(t)
	setInput(t, "correct horse")
	require.NoError(t, run("--config", path, "user", "register", "alice"))

	cmd, a := Parse([]string{"--config", path})
	require.Equal(t, CmdShell, cmd)
	sec, err := openSecurity(a)
	require.NoError(t, err)
	t.Cleanup(func() { sec.Close() })

	password := "wrong"
	login := Args{ConfigPath: path, Raw: []string{"alice"}, sec: sec,
		secret: func(string) (string, error) { return password, nil }}
	for i := 0; i < sec.Guard.Policy().MaxAttempts-1; i++ {
		require.ErrorIs(t, HandleLogin(login), auth.ErrInvalidCredentials)
	}
	require.ErrorIs(t, HandleLogin(login), auth.ErrLocked)

	password = "correct horse"
	require.ErrorIs(t, HandleLogin(login), auth.ErrLocked)
	require.Contains(t, out.String(), "Account locked")
	out.Reset()

	sh := &Shell{args: a, sec: sec}
	require.False(t, sh.Exec("lockout list --json"))
	resp := decode(t, out)
	require.Equal(t, []any{"alice"}, resp.Data)

	require.False(t, sh.Exec("lockout unlock alice"))
	require.Contains(t, out.String(), "Lockout cleared for alice")
	require.NoError(t, HandleLogin(login))

	out.Reset()
	require.False(t, sh.Exec("audit critical"))
	require.Contains(t, out.String(), "ACCOUNT_LOCKED")
	require.True(t, sh.Exec("exit"))
}

func TestKeysCommands(t *testing.T) {
	path := initConfig(t)
	out := captureOutput(t)

	cmd, a := Parse([]string{"--config", path})
	require.Equal(t, CmdShell, cmd)
	sec, err := openSecurity(a)
	require.NoError(t, err)
	t.Cleanup(func() { sec.Close() })
	sh := &Shell{args: a, sec: sec}

	sh.Exec("keys store k1")
	sh.Exec("keys rotate k1")
	out.Reset()
	sh.Exec("keys list --json")
	resp := decode(t, out)
	keys := resp.Data.([]any)
	require.Len(t, keys, 1)
	require.EqualValues(t, 2, keys[0].(map[string]any)["version"])

	sh.Exec("keys export k1 --format base64")
	exported := strings.TrimSpace(out.String())
	require.NotEmpty(t, exported)
	out.Reset()

	sh.Exec("audit view --json")
	require.NotContains(t, out.String(), exported)
	require.Contains(t, out.String(), "KEY_MANAGEMENT")
	out.Reset()

	file := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0600))
	sh.Exec("keys hash " + file + " --hmac k1 --json")
	resp = decode(t, out)
	hashed := resp.Data.(map[string]any)
	require.Equal(t, true, hashed["hmac"])
	mac := hashed["digest"].(string)
	require.NotEqual(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", mac)

	sh.Exec("keys verify " + file + " " + mac + " --hmac k1 --json")
	resp = decode(t, out)
	require.Equal(t, true, resp.Data.(map[string]any)["match"])

	err = HandleKeys(Args{Subcommand: "verify", Raw: []string{"verify", file, strings.Repeat("0", 64), "--hmac", "k1"}, sec: sec})
	require.Equal(t, ExitSecurityError, GetExitCode(err))
	out.Reset()

	err = HandleKeys(Args{Subcommand: "delete", Raw: []string{"delete", "k1"}, sec: sec})
	require.Equal(t, ExitUsageError, GetExitCode(err))
	require.NoError(t, HandleKeys(Args{Subcommand: "delete", Raw: []string{"delete", "k1", "--confirm"}, sec: sec}))
	_, err = sec.Keys.RetrieveKey("k1")
	require.ErrorIs(t, err, crypto.ErrKeyNotFound)
}

func TestKeysHashAndVerify(t *testing.T) {
	out := captureOutput(t)
	file := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0600))

	const digest = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	require.NoError(t, run("keys", "hash", file))
	require.Contains(t, out.String(), digest)

	require.NoError(t, run("keys", "verify", file, strings.ToUpper(digest)))

	err := run("keys", "verify", file, strings.Repeat("0", 64))
	require.Equal(t, ExitSecurityError, GetExitCode(err))

	err = run("keys", "hash", file, "--algorithm", "MD5")
	require.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestHelpAndVersion(t *testing.T) {
	out := captureOutput(t)
	require.NoError(t, run("help"))
	require.Contains(t, out.String(), "authguard login <user>")

	err := run("bogus")
	require.Equal(t, ExitUsageError, GetExitCode(err))

	out.Reset()
	require.NoError(t, run("version", "--json"))
	resp := decode(t, out)
	require.Equal(t, Version, resp.Data.(map[string]any)["version"])
}
