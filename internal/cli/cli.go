// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command parsing and dispatch for authguard.

package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/jeranaias/authguard/internal/config"
	"github.com/jeranaias/authguard/internal/security"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdShell   Command = iota
	CmdUser            // IA-5: Authenticator Management
	CmdLogin           // AC-7, IA-2(1): guarded login
	CmdLockout         // AC-7: Unsuccessful Logon Attempts
	CmdAudit           // AU-6, AU-9: audit review and analysis
	CmdKeys            // SC-12: key management
	CmdConfig
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	JSON       bool
	Quiet      bool
	Verbose    bool

	// Subcommand is the first argument after the command.
	Subcommand string

	// Raw holds the arguments after the command, subcommand included.
	Raw []string

	// sec is set by the shell so every command line shares one subsystem.
	sec *security.Context
	// secret overrides how passwords are read. The shell uses liner.
	secret func(prompt string) (string, error)
}

const usageText = `authguard - authentication and security audit tool

Usage:
  authguard [flags]                     Interactive shell (default)
  authguard user [subcommand]           Account management (IA-5)
  authguard login <user> [--code N]     Authenticate through the login guard (AC-7)
  authguard lockout [subcommand]        Lockout status and release (AC-7)
  authguard audit [subcommand]          Audit trail review (AU-6, AU-9)
  authguard keys [subcommand]           Key management (SC-12)
  authguard config [subcommand]         Configuration
  authguard version                     Version information

Global flags:
  --config <path>   Configuration file (default ~/.authguard/config.toml)
  --json            Machine-readable output
  -q, --quiet       Suppress informational output
  -v, --verbose     Operational logging on stderr
  -h, --help        Show this help

Environment:
  AUTHGUARD_CONFIG      Configuration file path
  AUTHGUARD_AUDIT_KEY   Audit trail key (64 hex chars)
  AUTHGUARD_AUDIT_IV    Audit trail IV (32 hex chars)

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Fprintf(stdout, usageText, Version)
}

// Parse parses command-line arguments, without the program name.
func Parse(argv []string) (Command, Args) {
	remaining, args, early := parseGlobalFlags(argv)
	if early != nil {
		return *early, args
	}
	if len(remaining) == 0 {
		return CmdShell, args
	}

	cmd := strings.ToLower(remaining[0])
	args.Raw = remaining[1:]
	if len(args.Raw) > 0 {
		args.Subcommand = strings.ToLower(args.Raw[0])
	}

	switch cmd {
	case "shell":
		return CmdShell, args
	case "user", "users":
		return CmdUser, args
	case "login":
		return CmdLogin, args
	case "lockout", "lock":
		return CmdLockout, args
	case "audit":
		return CmdAudit, args
	case "keys", "key":
		return CmdKeys, args
	case "config":
		return CmdConfig, args
	case "version":
		return CmdVersion, args
	case "help":
		return CmdHelp, args
	default:
		args.Subcommand = cmd
		return CmdHelp, args
	}
}

// parseGlobalFlags extracts global flags from argv. early is set when a flag
// decides the command on its own.
func parseGlobalFlags(argv []string) (remaining []string, args Args, early *Command) {
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch arg {
		case "--json":
			args.JSON = true
		case "-q", "--quiet":
			args.Quiet = true
		case "-v", "--verbose":
			args.Verbose = true
		case "-h", "--help":
			c := CmdHelp
			early = &c
		case "--version":
			c := CmdVersion
			early = &c
		case "--config":
			if i+1 < len(argv) {
				i++
				args.ConfigPath = argv[i]
			}
		default:
			if strings.HasPrefix(arg, "--config=") {
				args.ConfigPath = strings.TrimPrefix(arg, "--config=")
			} else {
				remaining = append(remaining, arg)
			}
		}
	}
	return remaining, args, early
}

// Run dispatches cmd.
func Run(cmd Command, args Args) error {
	switch cmd {
	case CmdShell:
		return HandleShell(args)
	case CmdUser:
		return HandleUser(args)
	case CmdLogin:
		return HandleLogin(args)
	case CmdLockout:
		return HandleLockout(args)
	case CmdAudit:
		return HandleAudit(args)
	case CmdKeys:
		return HandleKeys(args)
	case CmdConfig:
		return HandleConfig(args)
	case CmdVersion:
		return HandleVersion(args)
	default:
		return HandleHelp(args)
	}
}

// HandleHelp prints usage. An unknown command is a usage error.
func HandleHelp(args Args) error {
	if args.Subcommand != "" && args.Subcommand != "help" {
		return NewUsageError(fmt.Sprintf("unknown command: %s", args.Subcommand), "authguard help")
	}
	PrintUsage()
	return nil
}

// HandleVersion prints version information.
func HandleVersion(args Args) error {
	data := VersionData{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
	if args.JSON {
		return NewJSONResponse("version", data).Print()
	}
	fmt.Fprintf(stdout, "authguard version %s\n", data.Version)
	fmt.Fprintf(stdout, "  Git commit: %s\n", data.GitCommit)
	fmt.Fprintf(stdout, "  Build date: %s\n", data.BuildDate)
	fmt.Fprintf(stdout, "  Go:         %s\n", data.GoVersion)
	return nil
}

// =============================================================================
// SUBSYSTEM ACCESS
// =============================================================================

// loadConfig loads --config, then AUTHGUARD_CONFIG, then the default
// locations.
func loadConfig(args Args) (*config.Config, error) {
	path := args.ConfigPath
	if path == "" {
		path = os.Getenv("AUTHGUARD_CONFIG")
	}
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// newLogger builds the operational logger. Audit mirroring is only visible
// with --verbose.
func newLogger(args Args) *slog.Logger {
	level := slog.LevelError
	if args.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}

// openSecurity loads the configuration and opens the subsystem.
func openSecurity(args Args) (*security.Context, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, err
	}
	return security.Open(cfg, security.WithLogger(newLogger(args)))
}

// withSecurity runs fn against the shell's subsystem or a freshly opened one
// that is closed afterwards.
func withSecurity(args Args, fn func(sec *security.Context) error) (err error) {
	if args.sec != nil {
		return fn(args.sec)
	}
	sec, err := openSecurity(args)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sec.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(sec)
}

// =============================================================================
// SECRETS
// =============================================================================

func (a Args) readSecret(prompt string) (string, error) {
	if a.secret != nil {
		return a.secret(prompt)
	}
	return promptSecret(prompt)
}

// readNewPassword asks twice when interactive and once on piped input.
func (a Args) readNewPassword() (string, error) {
	first, err := a.readSecret("New password: ")
	if err != nil {
		return "", err
	}
	if a.secret == nil && !IsTTY() {
		return first, nil
	}
	second, err := a.readSecret("Confirm password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", NewValidationError("password", "", "passwords do not match")
	}
	return first, nil
}

// info prints a status line unless --quiet.
func (a Args) info(format string, v ...any) {
	if a.Quiet {
		return
	}
	fmt.Fprintf(stdout, format+"\n", v...)
}
