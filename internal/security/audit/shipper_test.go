// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShipper_ForwardsAppendedEvents(t *testing.T) {
	sender := &recordingSender{}
	shipper := NewShipper(sender, "node-a", 16, nil)
	trail, _ := openTestTrail(t, WithShipper(shipper))

	failLogin(t, trail, "alice")
	require.NoError(t, shipper.Close(context.Background()))

	require.Equal(t, 2, sender.count())
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(sender.payloads[1]), &ev))
	require.Equal(t, "alice", ev.Subject)
	require.Equal(t, "node-a", ev.Origin)
	require.Equal(t, uint64(2), shipper.Stats().Sent)
}

func TestShipper_NeverBlocksAppend(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{})}
	shipper := NewShipper(sender, "node-a", 2, nil)
	trail, _ := openTestTrail(t, WithShipper(shipper))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			trail.Append(LevelWarning, "Failed login", WithSubject("alice"), WithAction(ActionLoginFailed))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Append blocked on a stalled sender")
	}
	require.Positive(t, shipper.Stats().Dropped)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := shipper.Close(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	// Closed shippers refuse new events.
	require.False(t, shipper.Enqueue(Event{ID: 99}))
	require.NoError(t, shipper.Close(context.Background()))
}
