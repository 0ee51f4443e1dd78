// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package crypto

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// KeyRecord is a managed key as held by a KeyStore. Sealed is the key
// encrypted under the manager's master key; stores never see plaintext.
type KeyRecord struct {
	ID        string
	Sealed    []byte
	Version   int
	CreatedAt time.Time
	RotatedAt time.Time
}

// KeyStore persists sealed key records.
type KeyStore interface {
	// Put inserts or replaces a record.
	Put(rec KeyRecord) error
	// Get returns ErrKeyNotFound for unknown ids.
	Get(id string) (KeyRecord, error)
	// Delete returns ErrKeyNotFound for unknown ids.
	Delete(id string) error
	// List returns the stored ids in sorted order.
	List() ([]string, error)
	Close() error
}

// MemoryKeyStore keeps records in process memory.
type MemoryKeyStore struct {
	mu      sync.RWMutex
	records map[string]KeyRecord
}

// NewMemoryKeyStore creates an empty in-memory store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{records: make(map[string]KeyRecord)}
}

func (m *MemoryKeyStore) Put(rec KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Sealed = append([]byte(nil), rec.Sealed...)
	m.records[rec.ID] = rec
	return nil
}

func (m *MemoryKeyStore) Get(id string) (KeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return KeyRecord{}, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	rec.Sealed = append([]byte(nil), rec.Sealed...)
	return rec, nil
}

func (m *MemoryKeyStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	ZeroBytes(rec.Sealed)
	delete(m.records, id)
	return nil
}

func (m *MemoryKeyStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close wipes all records.
func (m *MemoryKeyStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.records {
		ZeroBytes(rec.Sealed)
		delete(m.records, id)
	}
	return nil
}
