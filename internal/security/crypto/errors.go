// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package crypto

import "errors"

var (
	// ErrInvalidKeyMaterial indicates a key or IV of the wrong length. It is a
	// configuration problem and never retried.
	ErrInvalidKeyMaterial = errors.New("invalid key material")
	// ErrDecryptFailure indicates a corrupt or tampered ciphertext.
	ErrDecryptFailure = errors.New("decryption failed")
	// ErrKeyNotFound indicates an unknown key id.
	ErrKeyNotFound = errors.New("key not found")
	// ErrUnsupportedAlgorithm indicates an unknown hash algorithm name.
	ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")
	// ErrUnsupportedFormat indicates an unknown key export format.
	ErrUnsupportedFormat = errors.New("unsupported key format")
)
