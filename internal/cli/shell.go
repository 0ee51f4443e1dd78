// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// shell.go - Interactive authguard shell.
//
// The shell opens the security subsystem once and runs every command line
// against it, so lockout state and session events carry across commands.
// History is kept in ~/.authguard/shell_history with 0600 permissions.
// Passwords are read with echo off and never enter the history.

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/authguard/internal/config"
	"github.com/jeranaias/authguard/internal/security"
)

const shellPrompt = "authguard> "

// shellCommands feeds tab completion.
var shellCommands = []string{
	"user", "login", "lockout", "audit", "keys", "config", "version", "help", "exit", "quit",
}

const shellHelp = `Commands:
  user [list|register|passwd|delete|roles|grant|revoke|mfa] ...
  login <user> [--code N]
  lockout [status|list|show|unlock] ...
  audit [view|critical|analyze|distributed|review|stats] ...
  keys [list|gen|store|rotate|export|import|delete|hash|verify] ...
  config [show|path|validate]
  version
  exit`

// Shell is a line-editing session bound to one security subsystem.
type Shell struct {
	line        *liner.State
	historyFile string
	interactive bool
	args        Args
	sec         *security.Context
}

// NewShell opens the subsystem and the line editor.
func NewShell(args Args) (*Shell, error) {
	sec, err := openSecurity(args)
	if err != nil {
		return nil, err
	}

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeCommand)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	s := &Shell{
		line:        line,
		historyFile: filepath.Join(dir, "shell_history"),
		interactive: IsTTY() && IsStdoutTTY() && liner.TerminalSupported(),
		args:        args,
		sec:         sec,
	}
	s.loadHistory()
	return s, nil
}

func completeCommand(input string) []string {
	var out []string
	for _, c := range shellCommands {
		if strings.HasPrefix(c, strings.ToLower(input)) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Shell) loadHistory() {
	if f, err := os.Open(s.historyFile); err == nil {
		s.line.ReadHistory(f)
		f.Close()
	}
}

func (s *Shell) saveHistory() {
	if err := os.MkdirAll(filepath.Dir(s.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(s.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	s.line.WriteHistory(f)
}

// readSecret reads a password with echo off, or a plain line on piped input.
func (s *Shell) readSecret(prompt string) (string, error) {
	if s.interactive {
		return s.line.PasswordPrompt(prompt)
	}
	return s.line.Prompt("")
}

// Close saves history, restores the terminal and closes the subsystem.
func (s *Shell) Close() error {
	s.saveHistory()
	s.line.Close()
	return s.sec.Close()
}

// Run reads command lines until exit, EOF or Ctrl+C.
func (s *Shell) Run() error {
	if s.interactive && !s.args.Quiet {
		fmt.Fprintln(stdout, TitleStyle.Render("authguard "+Version))
		fmt.Fprintln(stdout, DimStyle.Render("node "+s.sec.Trail.Node()+"  type 'help' for commands, 'exit' to leave"))
	}

	for {
		input, err := s.line.Prompt(shellPrompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				if s.interactive {
					fmt.Fprintln(stdout)
				}
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" || strings.HasPrefix(input, "#") {
			continue
		}
		s.line.AppendHistory(input)

		if done := s.Exec(input); done {
			return nil
		}
	}
}

// Exec runs one command line and reports whether the shell should exit.
// Errors are displayed and do not end the session.
func (s *Shell) Exec(input string) bool {
	cmd, a := Parse(strings.Fields(input))
	switch {
	case len(a.Raw) == 0 && (input == "exit" || input == "quit"):
		return true
	case cmd == CmdShell:
		fmt.Fprintln(stdout, DimStyle.Render("already in the shell"))
		return false
	case cmd == CmdHelp && a.Subcommand == "":
		fmt.Fprintln(stdout, shellHelp)
		return false
	case cmd == CmdConfig && a.Subcommand == "init":
		DisplayError(NewUsageError("config init is not available in the shell", "authguard config init"), a.JSON)
		return false
	}

	if a.ConfigPath == "" {
		a.ConfigPath = s.args.ConfigPath
	}
	a.JSON = a.JSON || s.args.JSON
	a.Quiet = a.Quiet || s.args.Quiet
	a.Verbose = a.Verbose || s.args.Verbose
	a.sec = s.sec
	a.secret = s.readSecret

	if err := Run(cmd, a); err != nil {
		DisplayError(err, a.JSON)
	}
	return false
}

// HandleShell runs the interactive shell.
func HandleShell(args Args) error {
	s, err := NewShell(args)
	if err != nil {
		return err
	}
	runErr := s.Run()
	return errors.Join(runErr, s.Close())
}
