// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit provides the encrypted security audit trail.
//
// This package implements NIST 800-53 AU-* controls:
//   - AU-2: Event Logging
//   - AU-6: Audit Review, Analysis, and Reporting
//   - AU-9: Protection of Audit Information
//
// # Components
//
// Trail: append-only log. Each event is JSON encoded, sealed by a Codec
// (fresh IV and HMAC per line) and written as one hex line, so every line
// decrypts independently and a corrupt line only loses itself.
//
//	codec, err := audit.NewSealedCodec(masterKey)
//	trail, err := audit.Open("/var/lib/authguard/audit.log", codec,
//	    audit.WithNode("node-a"),
//	    audit.WithThreshold(3),
//	)
//	trail.Append(audit.LevelWarning, "Failed login",
//	    audit.WithSubject("alice"), audit.WithAction(audit.ActionLoginFailed))
//
// Pattern analysis: AnalyzePatterns counts failed logins per username in
// the observation window and raises one alert per username over the
// threshold. AnalyzeDistributedPatterns does the same over events queried
// from the central node.
//
// Shipper: forwards events to the central node in the background.
//
// Watcher: fsnotify based detection of external changes to the log file.
package audit
