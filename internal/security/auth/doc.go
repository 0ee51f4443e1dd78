// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth provides password authentication with account lockout.
//
// This package implements NIST 800-53 IA-* and AC-* controls:
//   - IA-2(1): Multi-factor Authentication (optional TOTP)
//   - IA-5: Authenticator Management (salted PBKDF2, encrypted at rest)
//   - AC-7: Unsuccessful Logon Attempts (lockout with escalating cooldown)
//
// # Credential Store
//
// The CredentialStore keeps one encrypted record per user:
//
//	store, err := auth.NewCredentialStore(path, sealer, auth.WithIterations(100000))
//	if err := store.Load(); err != nil {
//	    return err
//	}
//
// # Login Guard
//
// The LoginGuard sits in front of the store. Every attempt goes through it:
//
//	guard := auth.NewLoginGuard(store, auth.WithPolicy(policy), auth.WithAuditor(trail))
//	res := guard.Authenticate("alice", password)
//	if err := res.Err(); err != nil {
//	    if errors.Is(err, auth.ErrLocked) {
//	        // retry after res.RetryAfter
//	    }
//	    return err
//	}
//
// After MaxAttempts consecutive failures the account is locked for
// InitialBlock. Failures after that, without a success in between, lock
// for CooldownIncrement longer each time. Attempts during a lockout are
// rejected without checking the password.
package auth
