// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides file and identifier helpers shared by the security
// packages and the CLI.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: crash-safe replace with fsync of file and directory
//   - AppendSync: locked, fsynced append used by the audit trail
//   - LockFile, UnlockFile: bounded advisory flock on Unix, no-op elsewhere
//
// Identifiers:
//   - NewNodeID, NewID: random identifiers
//   - MaskIdentifier: short sha256 prefix for display
//
// Display:
//   - TruncateWidth, PadRight: terminal-cell aware column helpers
package util
