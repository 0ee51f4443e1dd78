// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// KeySize is the AES-256 key size (32 bytes / 256 bits).
const KeySize = 32

// IVSize is the CBC initialization vector size (16 bytes / 128 bits).
const IVSize = aes.BlockSize

// TagSize is the HMAC-SHA256 tag size appended by Sealer.
const TagSize = sha256.Size

// =============================================================================
// AES-256-CBC
// =============================================================================

// Encrypt encrypts data with AES-256-CBC and PKCS#7 padding. It is a pure
// function of its inputs.
func Encrypt(data, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(data, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// Decrypt reverses Encrypt. Ciphertexts that are not a whole number of blocks
// or carry invalid padding yield ErrDecryptFailure.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a positive multiple of %d", ErrDecryptFailure, len(ciphertext), aes.BlockSize)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, aes.BlockSize)
}

func newBlock(key, iv []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrInvalidKeyMaterial, KeySize, len(key))
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrInvalidKeyMaterial, IVSize, len(iv))
	}
	return aes.NewCipher(key)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryptFailure)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrDecryptFailure)
		}
	}
	return data[:len(data)-n], nil
}

// =============================================================================
// UNITS WITH A FRESH IV
// =============================================================================

// NewIV returns a random IV.
func NewIV() ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}
	return iv, nil
}

// SealUnit encrypts data under a fresh random IV and returns iv || ciphertext.
func SealUnit(data, key []byte) ([]byte, error) {
	iv, err := NewIV()
	if err != nil {
		return nil, err
	}
	ct, err := Encrypt(data, key, iv)
	if err != nil {
		return nil, err
	}
	return append(iv, ct...), nil
}

// OpenUnit reverses SealUnit.
func OpenUnit(unit, key []byte) ([]byte, error) {
	if len(unit) < IVSize+aes.BlockSize {
		return nil, fmt.Errorf("%w: unit too short", ErrDecryptFailure)
	}
	return Decrypt(unit[IVSize:], key, unit[:IVSize])
}

// =============================================================================
// SEALER (ENCRYPT-THEN-MAC)
// =============================================================================

// Sealer encrypts units with AES-256-CBC under a fresh IV and authenticates
// iv || ciphertext with HMAC-SHA256. Encryption and MAC keys are derived
// from one master key with HKDF so they are never the same bytes.
type Sealer struct {
	encKey []byte
	macKey []byte
}

// NewSealer derives the encryption and MAC keys for purpose from master.
// Different purposes give unrelated keys.
func NewSealer(master []byte, purpose string) (*Sealer, error) {
	if len(master) != KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", ErrInvalidKeyMaterial, KeySize, len(master))
	}
	encKey, err := SubKey(master, purpose+"/enc")
	if err != nil {
		return nil, err
	}
	macKey, err := SubKey(master, purpose+"/mac")
	if err != nil {
		return nil, err
	}
	return &Sealer{encKey: encKey, macKey: macKey}, nil
}

// SubKey derives a 32-byte key bound to label using HKDF-SHA256.
func SubKey(master []byte, label string) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(label)), key); err != nil {
		return nil, fmt.Errorf("failed to derive subkey: %w", err)
	}
	return key, nil
}

// Seal returns iv || ciphertext || tag.
func (s *Sealer) Seal(data []byte) ([]byte, error) {
	unit, err := SealUnit(data, s.encKey)
	if err != nil {
		return nil, err
	}
	return append(unit, s.tag(unit)...), nil
}

// Open verifies the tag and decrypts. Any mismatch is ErrDecryptFailure.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < IVSize+aes.BlockSize+TagSize {
		return nil, fmt.Errorf("%w: sealed unit too short", ErrDecryptFailure)
	}
	unit, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]
	if !hmac.Equal(tag, s.tag(unit)) {
		return nil, fmt.Errorf("%w: authentication tag mismatch", ErrDecryptFailure)
	}
	return OpenUnit(unit, s.encKey)
}

// Close zeroes the derived keys.
func (s *Sealer) Close() {
	ZeroBytes(s.encKey)
	ZeroBytes(s.macKey)
}

func (s *Sealer) tag(unit []byte) []byte {
	mac := hmac.New(sha256.New, s.macKey)
	mac.Write(unit)
	return mac.Sum(nil)
}
