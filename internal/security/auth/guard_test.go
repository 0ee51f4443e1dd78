// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/authguard/internal/security/audit"
	"github.com/stretchr/testify/require"
)

func TestPolicy_BlockDuration(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitialBlock: 60 * time.Second, CooldownIncrement: 30 * time.Second}
	require.Equal(t, 60*time.Second, p.BlockDuration(5))
	require.Equal(t, 90*time.Second, p.BlockDuration(6))
	require.Equal(t, 150*time.Second, p.BlockDuration(8))
	require.Equal(t, 60*time.Second, p.BlockDuration(1))
}

func TestLoginGuard_LockoutEscalation(t *testing.T) {
	verifier := &countingVerifier{password: "correct horse"}
	guard, clock, rec := newTestGuard(t, WithVerifier(verifier))
	start := clock.Now()

	for i := 1; i <= 4; i++ {
		res := guard.Authenticate("alice", "wrong")
		require.Equal(t, OutcomeRejected, res.Outcome)
		require.Equal(t, 5-i, res.RemainingAttempts)
		require.ErrorIs(t, res.Err(), ErrInvalidCredentials)
	}

	res := guard.Authenticate("alice", "wrong")
	require.Equal(t, OutcomeLocked, res.Outcome)
	require.Equal(t, 60*time.Second, res.RetryAfter)
	require.Equal(t, start.Add(60*time.Second), res.LockedUntil)
	require.ErrorIs(t, res.Err(), ErrLocked)

	// The right password during the lock is rejected without a check.
	clock.Advance(10 * time.Second)
	calls := verifier.calls.Load()
	res = guard.Authenticate("alice", "correct horse")
	require.Equal(t, OutcomeLocked, res.Outcome)
	require.Equal(t, start.Add(60*time.Second), res.LockedUntil)
	require.Equal(t, 50*time.Second, res.RetryAfter)
	require.Equal(t, calls, verifier.calls.Load())

	st, ok := guard.State("alice")
	require.True(t, ok)
	require.Equal(t, 5, st.FailedAttempts)
	require.Equal(t, []string{"alice"}, guard.Locked())

	// Lock expired: the next failure escalates straight to a longer block.
	clock.Advance(50 * time.Second)
	res = guard.Authenticate("alice", "wrong")
	require.Equal(t, OutcomeLocked, res.Outcome)
	require.Equal(t, 90*time.Second, res.RetryAfter)

	st, _ = guard.State("alice")
	require.Equal(t, 1, st.FailedAttempts)
	require.Equal(t, 6, st.Streak)
	require.Equal(t, 2, st.Lockouts)

	clock.Advance(90 * time.Second)
	res = guard.Authenticate("alice", "correct horse")
	require.True(t, res.Authenticated())
	require.NoError(t, res.Err())

	st, _ = guard.State("alice")
	require.Zero(t, st.FailedAttempts)
	require.Zero(t, st.Streak)
	require.True(t, st.BlockedUntil.IsZero())
	require.Empty(t, guard.Locked())

	require.Equal(t, []string{
		audit.ActionLoginFailed, audit.ActionLoginFailed, audit.ActionLoginFailed, audit.ActionLoginFailed,
		audit.ActionAccountLocked,
		audit.ActionLoginRejectedLocked,
		audit.ActionAccountUnlocked,
		audit.ActionAccountLocked,
		audit.ActionAccountUnlocked,
		audit.ActionLoginSuccess,
	}, rec.actions())
}

func TestLoginGuard_EscalationIsMonotonic(t *testing.T) {
	guard, clock, _ := newTestGuard(t)

	for i := 0; i < 4; i++ {
		guard.Authenticate("alice", "wrong")
	}
	var last time.Duration
	for cycle := 0; cycle < 5; cycle++ {
		res := guard.Authenticate("alice", "wrong")
		require.Equal(t, OutcomeLocked, res.Outcome)
		require.Greater(t, res.RetryAfter, last)
		last = res.RetryAfter
		clock.Advance(res.RetryAfter)
	}
	require.Equal(t, 60*time.Second+4*30*time.Second, last)
}

func TestLoginGuard_SuccessResetsCounter(t *testing.T) {
	guard, _, _ := newTestGuard(t)

	for i := 0; i < 4; i++ {
		guard.Authenticate("alice", "wrong")
	}
	require.True(t, guard.Authenticate("alice", "correct horse").Authenticated())

	res := guard.Authenticate("alice", "wrong")
	require.Equal(t, OutcomeRejected, res.Outcome)
	require.Equal(t, 4, res.RemainingAttempts)
}

func TestLoginGuard_ConcurrentFailures(t *testing.T) {
	verifier := &countingVerifier{password: "correct horse"}
	guard, _, _ := newTestGuard(t, WithVerifier(verifier))

	const n = 20
	var wg sync.WaitGroup
	results := make(chan Result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- guard.Authenticate("alice", "wrong")
		}()
	}
	wg.Wait()
	close(results)

	counts := map[Outcome]int{}
	for res := range results {
		counts[res.Outcome]++
	}
	require.Equal(t, 4, counts[OutcomeRejected])
	require.Equal(t, n-4, counts[OutcomeLocked])
	require.Equal(t, int64(5), verifier.calls.Load())

	st, _ := guard.State("alice")
	require.Equal(t, 5, st.FailedAttempts)
}

func TestLoginGuard_UnknownUserIndistinguishable(t *testing.T) {
	guard, _, rec := newTestGuard(t)

	known := guard.Authenticate("alice", "wrong")
	unknown := guard.Authenticate("ghost", "wrong")
	require.Equal(t, known, unknown)
	require.Equal(t, known.Message(), unknown.Message())

	invalid := guard.Authenticate("bad name", "wrong")
	require.Equal(t, known, invalid)
	require.True(t, strings.HasPrefix(rec.last().Subject, "hash:"))

	for i := 0; i < 4; i++ {
		guard.Authenticate("ghost", "wrong")
	}
	require.Contains(t, guard.Locked(), "ghost")
}

func TestLoginGuard_NormalizedNamesShareState(t *testing.T) {
	guard, _, _ := newTestGuard(t)

	guard.Authenticate("Alice", "wrong")
	guard.Authenticate("ALICE", "wrong")
	st, ok := guard.State("alice")
	require.True(t, ok)
	require.Equal(t, 2, st.FailedAttempts)

	require.True(t, guard.Authenticate(" ALICE ", "correct horse").Authenticated())
}

func TestLoginGuard_AdminUnlock(t *testing.T) {
	guard, _, rec := newTestGuard(t)

	for i := 0; i < 5; i++ {
		guard.Authenticate("alice", "wrong")
	}
	require.Equal(t, []string{"alice"}, guard.Locked())

	require.True(t, guard.Unlock("alice"))
	require.Empty(t, guard.Locked())
	require.Equal(t, audit.ActionAccountUnlocked, rec.last().Action)

	st, _ := guard.State("alice")
	require.Zero(t, st.Streak)
	require.Equal(t, 1, st.Lockouts)

	require.True(t, guard.Authenticate("alice", "correct horse").Authenticated())
	require.False(t, guard.Unlock("nobody"))
}

func TestLoginGuard_Management(t *testing.T) {
	guard, _, rec := newTestGuard(t)

	require.NoError(t, guard.Register("bob", "pw1"))
	require.ErrorIs(t, guard.Register("bob", "pw1"), ErrUserExists)

	require.ErrorIs(t, guard.ChangePassword("bob", "nope", "pw2"), ErrInvalidCredentials)
	require.NoError(t, guard.ChangePassword("bob", "pw1", "pw2"))
	require.True(t, guard.Authenticate("bob", "pw2").Authenticated())

	require.NoError(t, guard.AssignRole("bob", "auditor"))
	require.True(t, guard.Store().HasRole("bob", "auditor"))
	require.NoError(t, guard.RevokeRole("bob", "auditor"))
	require.False(t, guard.Store().HasRole("bob", "auditor"))

	require.NoError(t, guard.DeleteUser("bob"))
	_, ok := guard.State("bob")
	require.False(t, ok)
	require.Equal(t, audit.ActionUserDeleted, rec.last().Action)

	stats := guard.Stats()
	require.Equal(t, uint64(2), stats.Successes)
	require.Equal(t, uint64(1), stats.Failures)
}

func TestResult_Message(t *testing.T) {
	require.Equal(t, "Authentication successful", Result{Outcome: OutcomeAuthenticated}.Message())
	require.Equal(t, "Invalid username or password (3 attempts remaining)",
		Result{Outcome: OutcomeRejected, RemainingAttempts: 3}.Message())
	require.Equal(t, "Account locked. Try again in 1m30s",
		Result{Outcome: OutcomeLocked, RetryAfter: 90 * time.Second}.Message())
	require.Equal(t, "LOCKED", OutcomeLocked.String())
}
