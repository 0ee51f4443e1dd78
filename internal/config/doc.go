// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// # Key Types
//
//   - Config: lockout policy, file locations and key material
//   - AuditConfig: audit trail, mirroring and log shipping
//   - EncryptionConfig: audit_trail_encryption key and IV
//   - KeystoreConfig: memory or SQLite backed key storage
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (AUTHGUARD_*)
//   - the file given with --config, or ~/.authguard/config.toml,
//     or ~/.authguard/config.json
//   - Built-in defaults (5 attempts, 60s initial block, 30s increment,
//     15 minute observation window)
//
// # Usage
//
//	cfg, err := config.LoadFromPath("/etc/authguard/security.json")
//	if errors.Is(err, config.ErrConfiguration) {
//	    log.Fatal(err)
//	}
//	limit := cfg.MaxLoginAttempts
package config
