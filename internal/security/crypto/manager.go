// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Export/import encodings.
const (
	FormatHex    = "HEX"
	FormatBase64 = "BASE64"
)

// Manager owns the master key and the keyed secure store. Keys handed to
// StoreKey are sealed under the master key before reaching the store.
type Manager struct {
	mu     sync.Mutex
	store  KeyStore
	sealer *Sealer
	master []byte
	now    func() time.Time
}

// NewManager creates a manager over store. master must be 32 bytes; the
// manager keeps its own copy.
func NewManager(master []byte, store KeyStore) (*Manager, error) {
	if store == nil {
		store = NewMemoryKeyStore()
	}
	sealer, err := NewSealer(master, "authguard/keystore")
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:  store,
		sealer: sealer,
		master: append([]byte(nil), master...),
		now:    time.Now,
	}, nil
}

// MasterKey returns a copy of the master key.
func (m *Manager) MasterKey() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.master...)
}

// Sealer returns a sealer for purpose derived from the master key.
func (m *Manager) Sealer(purpose string) (*Sealer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return NewSealer(m.master, purpose)
}

// StoreKey seals key and stores it under id, replacing any previous value.
func (m *Manager) StoreKey(id string, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(id, key, 1)
}

func (m *Manager) put(id string, key []byte, version int) error {
	if id == "" {
		return errors.New("key id must not be empty")
	}
	sealed, err := m.sealer.Seal(key)
	if err != nil {
		return fmt.Errorf("failed to seal key %s: %w", id, err)
	}
	now := m.now()
	rec := KeyRecord{ID: id, Sealed: sealed, Version: version, CreatedAt: now, RotatedAt: now}
	if prev, err := m.store.Get(id); err == nil {
		rec.CreatedAt = prev.CreatedAt
	}
	return m.store.Put(rec)
}

// RetrieveKey returns the plaintext key for id, or ErrKeyNotFound.
func (m *Manager) RetrieveKey(id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	key, err := m.sealer.Open(rec.Sealed)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", id, err)
	}
	return key, nil
}

// KeyInfo returns metadata for id without opening the key.
func (m *Manager) KeyInfo(id string) (KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.store.Get(id)
	if err != nil {
		return KeyRecord{}, err
	}
	rec.Sealed = nil
	return rec, nil
}

// DeleteKey removes id from the store.
func (m *Manager) DeleteKey(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Delete(id)
}

// ListKeys returns the stored key ids.
func (m *Manager) ListKeys() ([]string, error) {
	return m.store.List()
}

// RotateKey replaces the key stored under id with a fresh one of the given
// size and bumps its version. The new key is returned.
func (m *Manager) RotateKey(id string, bits int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	key, err := GenerateMasterKey(bits)
	if err != nil {
		return nil, err
	}
	if err := m.put(id, key, prev.Version+1); err != nil {
		ZeroBytes(key)
		return nil, err
	}
	return key, nil
}

// ExportKey encodes the key stored under id.
func (m *Manager) ExportKey(id, format string) (string, error) {
	key, err := m.RetrieveKey(id)
	if err != nil {
		return "", err
	}
	defer ZeroBytes(key)

	switch strings.ToUpper(format) {
	case FormatHex:
		return hex.EncodeToString(key), nil
	case FormatBase64:
		return base64.StdEncoding.EncodeToString(key), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// ImportKey decodes encoded and stores it under id.
func (m *Manager) ImportKey(id, encoded, format string) error {
	var key []byte
	var err error
	switch strings.ToUpper(format) {
	case FormatHex:
		key, err = hex.DecodeString(strings.TrimSpace(encoded))
	case FormatBase64:
		key, err = base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	defer ZeroBytes(key)
	return m.StoreKey(id, key)
}

// Close wipes the master key and closes the store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ZeroBytes(m.master)
	m.sealer.Close()
	return m.store.Close()
}
