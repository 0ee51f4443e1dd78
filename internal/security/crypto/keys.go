// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// ZeroBytes wipes sensitive byte slices so key material does not linger in
// memory or crash dumps.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// GenerateMasterKey returns bits/8 bytes from the system CSPRNG.
func GenerateMasterKey(bits int) ([]byte, error) {
	if bits <= 0 || bits%8 != 0 {
		return nil, fmt.Errorf("%w: key size must be a positive multiple of 8 bits, got %d", ErrInvalidKeyMaterial, bits)
	}
	key := make([]byte, bits/8)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// DeriveKey stretches master with PBKDF2-HMAC-SHA256.
func DeriveKey(master, salt []byte, iterations, bits int) []byte {
	return pbkdf2.Key(master, salt, iterations, bits/8, sha256.New)
}

// =============================================================================
// HASHING AND INTEGRITY
// =============================================================================

// Algorithm names accepted by HashHex, HMACHex and VerifyIntegrity.
const (
	SHA256 = "SHA256"
	SHA512 = "SHA512"
)

func hashFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(strings.ReplaceAll(algorithm, "-", "")) {
	case SHA256:
		return sha256.New, nil
	case SHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
}

// HashHex returns the hex digest of data.
func HashHex(data []byte, algorithm string) (string, error) {
	newHash, err := hashFunc(algorithm)
	if err != nil {
		return "", err
	}
	h := newHash()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyIntegrity reports whether data hashes to expectedHex. The comparison
// is constant time.
func VerifyIntegrity(data []byte, expectedHex, algorithm string) (bool, error) {
	got, err := HashHex(data, algorithm)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(expectedHex))) == 1, nil
}

// HMACHex returns the hex HMAC of data under key.
func HMACHex(key, data []byte, algorithm string) (string, error) {
	newHash, err := hashFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(newHash, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyHMAC reports whether expectedHex is the HMAC of data under key.
func VerifyHMAC(key, data []byte, expectedHex, algorithm string) (bool, error) {
	got, err := HMACHex(key, data, algorithm)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(got), []byte(strings.ToLower(expectedHex))), nil
}
