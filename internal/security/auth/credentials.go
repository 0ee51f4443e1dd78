// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jeranaias/authguard/internal/security/audit"
	"github.com/jeranaias/authguard/internal/security/crypto"
	"github.com/jeranaias/authguard/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// SaltSize is the per-user PBKDF2 salt size in bytes.
	SaltSize = 16

	// HashBits is the PBKDF2 output size.
	HashBits = 256

	// LegacyIterations applies to records written without an iteration count.
	LegacyIterations = 10000

	// DefaultIterations is used when no iteration count is configured.
	DefaultIterations = 100000

	credentialFileVersion = 1
)

// Auditor records security events. *audit.Trail implements it.
type Auditor interface {
	Append(level audit.Level, message string, opts ...audit.EventOption) (audit.Event, error)
}

type discardAuditor struct{}

func (discardAuditor) Append(level audit.Level, message string, opts ...audit.EventOption) (audit.Event, error) {
	return audit.Event{}, nil
}

// =============================================================================
// CREDENTIAL STORE
// =============================================================================

type userRecord struct {
	hash       []byte
	salt       []byte
	iterations int
	roles      map[string]bool
	totpSecret string
}

// CredentialStore holds salted PBKDF2 password hashes (NIST 800-53 IA-5).
// Records are persisted only in encrypted form; plaintext passwords are
// never stored or logged.
type CredentialStore struct {
	mu         sync.RWMutex
	path       string
	sealer     *crypto.Sealer
	iterations int
	users      map[string]*userRecord
	corrupted  int
	auditor    Auditor
	dummySalt  []byte
}

// StoreOption configures a CredentialStore.
type StoreOption func(*CredentialStore)

// WithIterations sets the PBKDF2 iteration count for new hashes.
func WithIterations(n int) StoreOption {
	return func(s *CredentialStore) {
		if n > 0 {
			s.iterations = n
		}
	}
}

// WithStoreAuditor sets where corrupt records are reported.
func WithStoreAuditor(a Auditor) StoreOption {
	return func(s *CredentialStore) {
		if a != nil {
			s.auditor = a
		}
	}
}

// NewCredentialStore creates a store persisted at path. Records are sealed
// with sealer. Call Load to read an existing file.
func NewCredentialStore(path string, sealer *crypto.Sealer, opts ...StoreOption) (*CredentialStore, error) {
	if sealer == nil {
		return nil, errors.New("credential sealer is required")
	}
	s := &CredentialStore{
		path:       path,
		sealer:     sealer,
		iterations: DefaultIterations,
		users:      make(map[string]*userRecord),
		auditor:    discardAuditor{},
	}
	for _, opt := range opts {
		opt(s)
	}
	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	s.dummySalt = salt
	return s, nil
}

func newSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// Register adds a user with the given password.
func (s *CredentialStore) Register(username, password string) error {
	key, err := NormalizeUsername(username)
	if err != nil {
		return err
	}
	if password == "" {
		return ErrInvalidPassword
	}
	salt, err := newSalt()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[key]; ok {
		return fmt.Errorf("%w: %s", ErrUserExists, key)
	}
	s.users[key] = &userRecord{
		hash:       crypto.DeriveKey([]byte(password), salt, s.iterations, HashBits),
		salt:       salt,
		iterations: s.iterations,
		roles:      make(map[string]bool),
	}
	if err := s.saveLocked(); err != nil {
		delete(s.users, key)
		return err
	}
	return nil
}

// VerifyPassword reports whether password matches the stored hash. Unknown
// users cost one PBKDF2 derivation like known ones and return false with
// ErrCredentialNotFound.
func (s *CredentialStore) VerifyPassword(username, password string) (bool, error) {
	key, err := NormalizeUsername(username)

	s.mu.RLock()
	var rec *userRecord
	if err == nil {
		rec = s.users[key]
	}
	iterations, salt, want := s.iterations, s.dummySalt, []byte(nil)
	if rec != nil {
		iterations, salt, want = rec.iterations, rec.salt, rec.hash
	}
	s.mu.RUnlock()

	got := crypto.DeriveKey([]byte(password), salt, iterations, HashBits)
	if rec == nil {
		return false, ErrCredentialNotFound
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// UserExists reports whether username is registered.
func (s *CredentialStore) UserExists(username string) bool {
	key, err := NormalizeUsername(username)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[key]
	return ok
}

// ChangePassword replaces the password of an existing user.
func (s *CredentialStore) ChangePassword(username, newPassword string) error {
	if newPassword == "" {
		return ErrInvalidPassword
	}
	salt, err := newSalt()
	if err != nil {
		return err
	}
	return s.mutate(username, func(rec *userRecord) {
		rec.salt = salt
		rec.iterations = s.iterations
		rec.hash = crypto.DeriveKey([]byte(newPassword), salt, s.iterations, HashBits)
	})
}

// Delete removes a user.
func (s *CredentialStore) Delete(username string) error {
	key, err := NormalizeUsername(username)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCredentialNotFound, key)
	}
	delete(s.users, key)
	if err := s.saveLocked(); err != nil {
		s.users[key] = rec
		return err
	}
	return nil
}

// AssignRole tags a user with role.
func (s *CredentialStore) AssignRole(username, role string) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return errors.New("role must not be empty")
	}
	return s.mutate(username, func(rec *userRecord) { rec.roles[role] = true })
}

// RevokeRole removes role from a user. Revoking a role the user does not
// hold is not an error.
func (s *CredentialStore) RevokeRole(username, role string) error {
	return s.mutate(username, func(rec *userRecord) { delete(rec.roles, strings.TrimSpace(role)) })
}

// HasRole reports whether the user holds role.
func (s *CredentialStore) HasRole(username, role string) bool {
	key, err := NormalizeUsername(username)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[key]
	return ok && rec.roles[role]
}

// Roles returns the user's roles in sorted order.
func (s *CredentialStore) Roles(username string) ([]string, error) {
	key, err := NormalizeUsername(username)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCredentialNotFound, key)
	}
	return sortedRoles(rec.roles), nil
}

// Usernames returns all registered usernames in sorted order.
func (s *CredentialStore) Usernames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Corrupted returns how many records were skipped by the last Load.
func (s *CredentialStore) Corrupted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.corrupted
}

// mutate applies fn to an existing record and persists, restoring the
// previous record if the write fails.
func (s *CredentialStore) mutate(username string, fn func(rec *userRecord)) error {
	key, err := NormalizeUsername(username)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCredentialNotFound, key)
	}
	prev := rec.clone()
	fn(rec)
	if err := s.saveLocked(); err != nil {
		s.users[key] = prev
		return err
	}
	return nil
}

func (r *userRecord) clone() *userRecord {
	c := *r
	c.roles = make(map[string]bool, len(r.roles))
	for k, v := range r.roles {
		c.roles[k] = v
	}
	return &c
}

func sortedRoles(roles map[string]bool) []string {
	out := make([]string, 0, len(roles))
	for r := range roles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// PERSISTENCE
// =============================================================================

type credentialFile struct {
	Version int        `json:"version"`
	Users   []fileUser `json:"users"`
}

type fileUser struct {
	Username      string   `json:"username"`
	Record        string   `json:"encrypted_record"`
	Roles         []string `json:"roles"`
	EncryptedTOTP string   `json:"encrypted_totp,omitempty"`
}

// Save writes all records atomically with mode 0600.
func (s *CredentialStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *CredentialStore) saveLocked() error {
	if s.path == "" {
		return nil
	}

	file := credentialFile{Version: credentialFileVersion, Users: make([]fileUser, 0, len(s.users))}
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rec := s.users[name]
		plain := hex.EncodeToString(rec.hash) + ":" + hex.EncodeToString(rec.salt) + ":" + strconv.Itoa(rec.iterations)
		sealed, err := s.sealer.Seal([]byte(plain))
		if err != nil {
			return fmt.Errorf("failed to encrypt record for %s: %w", name, err)
		}
		fu := fileUser{
			Username: name,
			Record:   hex.EncodeToString(sealed),
			Roles:    sortedRoles(rec.roles),
		}
		if rec.totpSecret != "" {
			sealedTOTP, err := s.sealer.Seal([]byte(rec.totpSecret))
			if err != nil {
				return fmt.Errorf("failed to encrypt mfa secret for %s: %w", name, err)
			}
			fu.EncryptedTOTP = hex.EncodeToString(sealedTOTP)
		}
		file.Users = append(file.Users, fu)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential file: %w", err)
	}
	if err := util.AtomicWriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

// Load replaces the in-memory records with the file contents. A missing
// file yields an empty store. Records that fail to decrypt or parse are
// reported as CRITICAL audit events and skipped.
func (s *CredentialStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.users = make(map[string]*userRecord)
		s.corrupted = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read credential file: %w", err)
	}

	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse credential file: %w", err)
	}

	users := make(map[string]*userRecord, len(file.Users))
	corrupted := 0
	for _, fu := range file.Users {
		key, err := NormalizeUsername(fu.Username)
		if err == nil {
			var rec *userRecord
			rec, err = s.openRecord(fu)
			if err == nil {
				users[key] = rec
				continue
			}
		}
		corrupted++
		s.auditor.Append(audit.LevelCritical, "Credential record could not be decrypted and was skipped",
			audit.WithSubject(fu.Username),
			audit.WithAction(audit.ActionCredentialCorrupt),
			audit.WithDetails(map[string]string{"error": err.Error()}))
	}

	s.users = users
	s.corrupted = corrupted
	return nil
}

func (s *CredentialStore) openRecord(fu fileUser) (*userRecord, error) {
	plain, err := s.open(fu.Record)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(string(plain), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return nil, errors.New("malformed credential record")
	}
	hash, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("malformed hash: %w", err)
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed salt: %w", err)
	}
	iterations := LegacyIterations
	if len(parts) == 3 {
		if iterations, err = strconv.Atoi(parts[2]); err != nil || iterations <= 0 {
			return nil, errors.New("malformed iteration count")
		}
	}

	rec := &userRecord{hash: hash, salt: salt, iterations: iterations, roles: make(map[string]bool)}
	for _, r := range fu.Roles {
		rec.roles[r] = true
	}
	if fu.EncryptedTOTP != "" {
		secret, err := s.open(fu.EncryptedTOTP)
		if err != nil {
			return nil, fmt.Errorf("mfa secret: %w", err)
		}
		rec.totpSecret = string(secret)
	}
	return rec, nil
}

func (s *CredentialStore) open(hexSealed string) ([]byte, error) {
	sealed, err := hex.DecodeString(hexSealed)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex", crypto.ErrDecryptFailure)
	}
	return s.sealer.Open(sealed)
}
