// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and execution for authguard.
//
// Every command opens the security subsystem from the configuration, runs,
// and closes it again. The interactive shell keeps one subsystem open for
// the whole session instead.
//
// # Key Types
//
//   - Command: Enumeration of all available commands
//   - Args: Parsed global flags plus the command's raw arguments
//   - ArgParser: Subcommand, flag and positional parsing for handlers
//   - JSONResponse: Envelope for --json output (SIEM integration)
//
// # Usage
//
//	cmd, args := cli.Parse(os.Args[1:])
//	if err := cli.Run(cmd, args); err != nil {
//	    cli.DisplayError(err, args.JSON)
//	    os.Exit(cli.GetExitCode(err))
//	}
//
// # Commands Overview
//
//   - user: Account management (IA-5)
//   - login: Guarded authentication (AC-7, IA-2(1))
//   - lockout: Lockout status and release (AC-7)
//   - audit: Audit review and pattern analysis (AU-6, AU-9)
//   - keys: Key management and integrity checks (SC-12, SC-13)
//   - config: Configuration bootstrap and validation
//
// All commands support --json.
package cli
