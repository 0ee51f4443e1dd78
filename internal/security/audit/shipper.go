// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sender delivers one payload to the central node. Implementations own the
// retry policy and must return once it is exhausted.
type Sender interface {
	Send(ctx context.Context, nodeID, payload string) error
}

// Shipper forwards appended events to the central node from a single
// background goroutine so that Append never waits on the network. When the
// queue is full, events are dropped and counted; they remain in the local
// encrypted log.
type Shipper struct {
	sender Sender
	node   string
	logger *slog.Logger
	queue  chan Event

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewShipper starts the shipping goroutine. size bounds the queue.
func NewShipper(sender Sender, node string, size int, logger *slog.Logger) *Shipper {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Shipper{
		sender: sender,
		node:   node,
		logger: logger,
		queue:  make(chan Event, size),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Enqueue queues ev without blocking. It reports whether ev was accepted.
func (s *Shipper) Enqueue(ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return false
	}
	select {
	case s.queue <- ev:
		return true
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit shipping queue full, event kept locally only", "audit_id", ev.ID)
		return false
	}
}

func (s *Shipper) run() {
	defer close(s.done)
	for ev := range s.queue {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.failed.Add(1)
			continue
		}
		if err := s.sender.Send(s.ctx, s.node, string(payload)); err != nil {
			s.failed.Add(1)
			s.logger.Warn("audit event not delivered to central node", "audit_id", ev.ID, "error", err)
			continue
		}
		s.sent.Add(1)
	}
}

// Close stops accepting events and drains the queue until ctx is done, at
// which point in-flight sends are cancelled.
func (s *Shipper) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-s.done
		return ctx.Err()
	}
}

// ShipperStats reports delivery counters.
type ShipperStats struct {
	Sent    uint64
	Failed  uint64
	Dropped uint64
	Queued  int
}

// Stats returns delivery counters.
func (s *Shipper) Stats() ShipperStats {
	return ShipperStats{
		Sent:    s.sent.Load(),
		Failed:  s.failed.Load(),
		Dropped: s.dropped.Load(),
		Queued:  len(s.queue),
	}
}
