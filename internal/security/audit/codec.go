// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jeranaias/authguard/internal/security/crypto"
)

// Codec turns one plaintext record into one encrypted, hex-encoded log line
// and back. Every line must be decodable on its own.
type Codec interface {
	Encode(plaintext []byte) (string, error)
	Decode(line string) ([]byte, error)
}

// SealedCodec writes hex(iv || ciphertext || hmac) with a fresh IV per line.
type SealedCodec struct {
	sealer *crypto.Sealer
}

// NewSealedCodec derives the audit keys from master.
func NewSealedCodec(master []byte) (*SealedCodec, error) {
	sealer, err := crypto.NewSealer(master, "authguard/audit")
	if err != nil {
		return nil, err
	}
	return &SealedCodec{sealer: sealer}, nil
}

func (c *SealedCodec) Encode(plaintext []byte) (string, error) {
	sealed, err := c.sealer.Seal(plaintext)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sealed), nil
}

func (c *SealedCodec) Decode(line string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(line))
	if err != nil {
		return nil, fmt.Errorf("%w: not hex: %v", crypto.ErrDecryptFailure, err)
	}
	return c.sealer.Open(raw)
}

// LegacyCodec writes hex(AES-CBC(line)) under the configured key and fixed
// IV, with no authentication tag. It reads and writes logs produced by older
// deployments and should only be enabled for compatibility.
type LegacyCodec struct {
	key []byte
	iv  []byte
}

// NewLegacyCodec validates key and iv sizes up front.
func NewLegacyCodec(key, iv []byte) (*LegacyCodec, error) {
	if _, err := crypto.Encrypt(nil, key, iv); err != nil {
		return nil, err
	}
	return &LegacyCodec{
		key: append([]byte(nil), key...),
		iv:  append([]byte(nil), iv...),
	}, nil
}

func (c *LegacyCodec) Encode(plaintext []byte) (string, error) {
	ct, err := crypto.Encrypt(plaintext, c.key, c.iv)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ct), nil
}

func (c *LegacyCodec) Decode(line string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(line))
	if err != nil {
		return nil, fmt.Errorf("%w: not hex: %v", crypto.ErrDecryptFailure, err)
	}
	return crypto.Decrypt(raw, c.key, c.iv)
}
