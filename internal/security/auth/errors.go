// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import "errors"

var (
	// ErrUserExists is returned when registering a username twice.
	ErrUserExists = errors.New("user already exists")
	// ErrCredentialNotFound is returned for unknown usernames. It never
	// reaches the caller of Authenticate, which sees a plain rejection.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrInvalidCredentials is the error form of a rejected login.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrLocked is the error form of a login refused because of a lockout.
	ErrLocked = errors.New("account temporarily locked due to too many failed attempts")
	// ErrInvalidUsername is returned for usernames that fail normalization.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned for empty passwords.
	ErrInvalidPassword = errors.New("password must not be empty")
)
