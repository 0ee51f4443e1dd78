// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package crypto

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteKeyStore persists sealed key records in a SQLite database.
type SQLiteKeyStore struct {
	db *sql.DB
}

const keyStoreSchema = `
CREATE TABLE IF NOT EXISTS keys (
	id         TEXT PRIMARY KEY,
	blob       BLOB NOT NULL,
	version    INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	rotated_at INTEGER NOT NULL
);`

// OpenSQLiteKeyStore opens or creates the database at path.
func OpenSQLiteKeyStore(path string) (*SQLiteKeyStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open keystore: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure keystore: %w", err)
	}
	if _, err := db.Exec(keyStoreSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create keystore schema: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to secure keystore permissions: %w", err)
	}
	return &SQLiteKeyStore{db: db}, nil
}

func (s *SQLiteKeyStore) Put(rec KeyRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO keys (id, blob, version, created_at, rotated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			blob = excluded.blob,
			version = excluded.version,
			rotated_at = excluded.rotated_at`,
		rec.ID, rec.Sealed, rec.Version, rec.CreatedAt.UnixNano(), rec.RotatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store key %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteKeyStore) Get(id string) (KeyRecord, error) {
	var rec KeyRecord
	var created, rotated int64
	err := s.db.QueryRow(`SELECT id, blob, version, created_at, rotated_at FROM keys WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Sealed, &rec.Version, &created, &rotated)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyRecord{}, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	if err != nil {
		return KeyRecord{}, fmt.Errorf("failed to load key %s: %w", id, err)
	}
	rec.CreatedAt = time.Unix(0, created)
	rec.RotatedAt = time.Unix(0, rotated)
	return rec, nil
}

func (s *SQLiteKeyStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	return nil
}

func (s *SQLiteKeyStore) List() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM keys ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan key id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteKeyStore) Close() error {
	return s.db.Close()
}
