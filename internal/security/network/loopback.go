// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package network

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Loopback is an in-process central node. Nodes sharing one Loopback see
// each other's payloads, which is enough for single-host deployments and
// for exercising distributed analysis without a network.
type Loopback struct {
	mu   sync.RWMutex
	logs map[string][]string
}

// NewLoopback creates an empty central node.
func NewLoopback() *Loopback {
	return &Loopback{logs: make(map[string][]string)}
}

func (l *Loopback) Send(ctx context.Context, nodeID, payload string) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	if nodeID == "" {
		return Ack{OK: false, Reason: "missing node id"}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs[nodeID] = append(l.logs[nodeID], payload)
	return Ack{OK: true, ID: uuid.NewString()}, nil
}

// Query supports the filters:
//   - node: only payloads sent by this node (all nodes when empty)
//   - action, subject, level: exact match on the event field
//   - since: RFC 3339 timestamp, events strictly before it are skipped
//
// Payloads that are not JSON events only match when no event field filter
// is given.
func (l *Loopback) Query(ctx context.Context, filters map[string]string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var since time.Time
	if s := filters["since"]; s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("invalid since filter: %w", err)
		}
		since = t
	}
	fieldFilters := filters["action"] != "" || filters["subject"] != "" || filters["level"] != "" || !since.IsZero()

	l.mu.RLock()
	defer l.mu.RUnlock()

	nodes := []string{filters["node"]}
	if filters["node"] == "" {
		nodes = l.nodesLocked()
	}

	var out []string
	for _, node := range nodes {
		for _, p := range l.logs[node] {
			if !fieldFilters {
				out = append(out, p)
				continue
			}
			var ev struct {
				Timestamp time.Time `json:"timestamp"`
				Level     string    `json:"level"`
				Subject   string    `json:"subject"`
				Action    string    `json:"action"`
			}
			if err := json.Unmarshal([]byte(p), &ev); err != nil {
				continue
			}
			if !matches(filters["action"], ev.Action) ||
				!matches(filters["subject"], ev.Subject) ||
				(filters["level"] != "" && !strings.EqualFold(filters["level"], ev.Level)) {
				continue
			}
			if !since.IsZero() && ev.Timestamp.Before(since) {
				continue
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// Nodes lists the nodes that have sent at least one payload.
func (l *Loopback) Nodes() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nodesLocked()
}

func (l *Loopback) nodesLocked() []string {
	nodes := make([]string, 0, len(l.logs))
	for n := range l.logs {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

func matches(filter, value string) bool {
	return filter == "" || filter == value
}
