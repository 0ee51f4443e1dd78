// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package crypto provides the key management and symmetric encryption used
// by the credential store and the audit trail.
//
// This package implements NIST 800-53 SC-* controls:
//   - SC-12: Cryptographic Key Establishment and Management
//   - SC-13: Cryptographic Protection
//   - SC-28: Protection of Information at Rest
//
// # Encryption
//
// Encrypt and Decrypt are AES-256-CBC with PKCS#7 padding and take the key
// and IV explicitly. Wrong-length key material is ErrInvalidKeyMaterial:
//
//	ct, err := crypto.Encrypt(plaintext, key, iv)
//	pt, err := crypto.Decrypt(ct, key, iv)
//
// Stored data goes through a Sealer instead, which uses a fresh IV for every
// unit and appends an HMAC-SHA256 tag:
//
//	sealer, err := crypto.NewSealer(master, "authguard/audit")
//	sealed, err := sealer.Seal(line)
//	line, err := sealer.Open(sealed)
//
// # Key Management
//
// Manager stores keys sealed under the master key in a KeyStore
// (MemoryKeyStore or SQLiteKeyStore):
//
//	mgr, err := crypto.NewManager(master, crypto.NewMemoryKeyStore())
//	err = mgr.StoreKey("session", key)
//	key, err := mgr.RetrieveKey("session")
//	key, err = mgr.RotateKey("session", 256)
//
// # Key Derivation
//
// DeriveKey is PBKDF2-HMAC-SHA256; SubKey is HKDF-SHA256 for splitting one
// master key into independent purpose keys.
package crypto
