// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"bytes"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeranaias/authguard/internal/security/audit"
	"github.com/jeranaias/authguard/internal/security/crypto"
	"github.com/stretchr/testify/require"
)

const testIterations = 1000

var testMaster = bytes.Repeat([]byte{0x42}, 32)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingAuditor keeps every appended event.
type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Append(level audit.Level, message string, opts ...audit.EventOption) (audit.Event, error) {
	ev := audit.Event{Level: level, Message: message}
	for _, opt := range opts {
		opt(&ev)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return ev, nil
}

func (r *recordingAuditor) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Action
	}
	return out
}

func (r *recordingAuditor) last() audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// countingVerifier accepts one password and counts every call.
type countingVerifier struct {
	password string
	calls    atomic.Int64
}

func (v *countingVerifier) VerifyPassword(username, password string) (bool, error) {
	v.calls.Add(1)
	return password == v.password, nil
}

func testSealer(t *testing.T) *crypto.Sealer {
	t.Helper()
	sealer, err := crypto.NewSealer(testMaster, "authguard/credentials")
	require.NoError(t, err)
	return sealer
}

func newTestStore(t *testing.T, opts ...StoreOption) (*CredentialStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "user_db.json")
	store, err := NewCredentialStore(path, testSealer(t), append([]StoreOption{WithIterations(testIterations)}, opts...)...)
	require.NoError(t, err)
	return store, path
}

func newTestGuard(t *testing.T, opts ...GuardOption) (*LoginGuard, *fakeClock, *recordingAuditor) {
	t.Helper()
	store, _ := newTestStore(t)
	require.NoError(t, store.Register("alice", "correct horse"))
	clock := newFakeClock()
	rec := &recordingAuditor{}
	base := []GuardOption{
		WithClock(clock.Now),
		WithAuditor(rec),
		WithPolicy(Policy{MaxAttempts: 5, InitialBlock: 60 * time.Second, CooldownIncrement: 30 * time.Second}),
	}
	return NewLoginGuard(store, append(base, opts...)...), clock, rec
}
