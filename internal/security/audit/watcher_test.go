// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func tamperEvents(trail *Trail) int {
	n := 0
	for _, ev := range trail.GetCritical() {
		if ev.Action == ActionAuditTamper {
			n++
		}
	}
	return n
}

func TestWatcher_DetectsTruncation(t *testing.T) {
	trail, path := openTestTrail(t)
	_, err := trail.Watch()
	require.NoError(t, err)

	failLogin(t, trail, "alice")
	// Own writes are not tampering.
	time.Sleep(100 * time.Millisecond)
	require.Zero(t, tamperEvents(trail))

	require.NoError(t, os.Truncate(path, 10))

	require.Eventually(t, func() bool {
		return tamperEvents(trail) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	critical := trail.GetCritical()
	require.Contains(t, critical[len(critical)-1].Message, "truncated")
}

func TestWatcher_DetectsRemoval(t *testing.T) {
	trail, path := openTestTrail(t)
	_, err := trail.Watch()
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		return tamperEvents(trail) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	// The trail keeps writing to a recreated file.
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	failLogin(t, trail, "alice")
	view, err := trail.ViewLogs()
	require.NoError(t, err)
	require.NotEmpty(t, view.Events)
}
