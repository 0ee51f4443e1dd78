// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testMaster = bytes.Repeat([]byte{0x5a}, 32)

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

func openTestTrail(t *testing.T, opts ...Option) (*Trail, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	codec, err := NewSealedCodec(testMaster)
	require.NoError(t, err)
	trail, err := Open(path, codec, append([]Option{WithNode("node-a")}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { trail.Close() })
	return trail, path
}

func failLogin(t *testing.T, trail *Trail, user string) {
	t.Helper()
	_, err := trail.Append(LevelWarning, "Failed login", WithSubject(user), WithAction(ActionLoginFailed))
	require.NoError(t, err)
}

// fakeQuerier serves canned payloads per node.
type fakeQuerier struct {
	mu       sync.Mutex
	payloads map[string][]string
	fail     map[string]bool
	queries  []map[string]string
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{payloads: make(map[string][]string), fail: make(map[string]bool)}
}

func (q *fakeQuerier) add(t *testing.T, node string, ev Event) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads[node] = append(q.payloads[node], string(data))
}

func (q *fakeQuerier) Query(ctx context.Context, filters map[string]string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queries = append(q.queries, filters)
	node := filters["node"]
	if q.fail[node] {
		return nil, errors.New("node unreachable")
	}
	return append([]string(nil), q.payloads[node]...), nil
}

// recordingSender collects payloads and can be made to block.
type recordingSender struct {
	mu       sync.Mutex
	payloads []string
	block    chan struct{}
}

func (s *recordingSender) Send(ctx context.Context, nodeID, payload string) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}
