// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// lockout_cmd.go - Lockout management commands (AC-7).
//
// Command: lockout [subcommand]
// Aliases: lock
//
// Subcommands:
//   status (default)    Show the policy and counters
//   list                List locked users (alias: ls)
//   show <user>         Show one user's lockout state
//   unlock <user>       Release a lockout (administrative)
//
// AC-7 Lockout Policy:
//   - A user locks after max_login_attempts consecutive failures
//   - Every further failure re-locks for cooldown_increment longer
//   - Only a successful login or an unlock resets the escalation
//   - All lockout events are logged to the audit trail

package cli

import (
	"fmt"
	"time"

	"github.com/jeranaias/authguard/internal/security"
)

const lockoutUsage = `authguard lockout status
  authguard lockout list
  authguard lockout show <user>
  authguard lockout unlock <user>`

// HandleLockout handles "lockout" subcommands.
func HandleLockout(args Args) error {
	p := NewArgParser(args.Raw)
	switch args.Subcommand {
	case "", "status":
		return withSecurity(args, func(sec *security.Context) error {
			return handleLockoutStatus(args, sec)
		})
	case "list", "ls":
		return withSecurity(args, func(sec *security.Context) error {
			return handleLockoutList(args, sec)
		})
	case "show":
		user := p.Positional(1)
		if user == "" {
			return ErrMissingArgument("username", "authguard lockout show <user>")
		}
		return withSecurity(args, func(sec *security.Context) error {
			return handleLockoutShow(args, sec, user)
		})
	case "unlock", "reset":
		user := p.Positional(1)
		if user == "" {
			return ErrMissingArgument("username", "authguard lockout unlock <user>")
		}
		return withSecurity(args, func(sec *security.Context) error {
			return handleLockoutUnlock(args, sec, user)
		})
	default:
		return NewUsageError(fmt.Sprintf("unknown lockout subcommand: %s", args.Subcommand), lockoutUsage)
	}
}

func handleLockoutStatus(args Args, sec *security.Context) error {
	policy := sec.Guard.Policy()
	stats := sec.Guard.Stats()
	locked := sec.Guard.Locked()

	if args.JSON {
		return NewJSONResponse("lockout status", LockoutStatusData{
			MaxAttempts:       policy.MaxAttempts,
			InitialBlock:      policy.InitialBlock.String(),
			CooldownIncrement: policy.CooldownIncrement.String(),
			Tracked:           stats.Tracked,
			Locked:            nonNil(locked),
			TotalLockouts:     stats.Lockouts,
			Successes:         stats.Successes,
			Failures:          stats.Failures,
		}).Print()
	}

	printTitle("Account Lockout Status (AC-7)")
	fmt.Fprintln(stdout, SectionStyle.Render("Policy"))
	printField("Max attempts", policy.MaxAttempts)
	printField("Initial block", policy.InitialBlock)
	printField("Cooldown increment", policy.CooldownIncrement)

	fmt.Fprintln(stdout, SectionStyle.Render("Activity"))
	printField("Tracked users", stats.Tracked)
	printField("Locked now", stats.Locked)
	printField("Total lockouts", stats.Lockouts)
	printField("Successful logins", stats.Successes)
	printField("Failed logins", stats.Failures)
	return nil
}

func handleLockoutList(args Args, sec *security.Context) error {
	locked := sec.Guard.Locked()
	if args.JSON {
		return NewJSONResponse("lockout list", nonNil(locked)).Print()
	}

	printTitle("Locked Accounts")
	if len(locked) == 0 {
		fmt.Fprintln(stdout, DimStyle.Render("  No accounts are locked"))
		return nil
	}
	now := time.Now()
	for _, user := range locked {
		st, _ := sec.Guard.State(user)
		printField(user, "until "+st.BlockedUntil.Format(time.TimeOnly)+
			" ("+st.BlockedUntil.Sub(now).Round(time.Second).String()+")")
	}
	return nil
}

func handleLockoutShow(args Args, sec *security.Context, user string) error {
	st, ok := sec.Guard.State(user)
	locked := ok && st.LockedAt(time.Now())

	if args.JSON {
		data := map[string]any{
			"username":        user,
			"tracked":         ok,
			"locked":          locked,
			"failed_attempts": st.FailedAttempts,
			"streak":          st.Streak,
			"lockouts":        st.Lockouts,
		}
		if locked {
			data["blocked_until"] = st.BlockedUntil.UTC().Format(time.RFC3339)
		}
		return NewJSONResponse("lockout show", data).Print()
	}

	printTitle("Lockout State: " + user)
	if !ok {
		fmt.Fprintln(stdout, DimStyle.Render("  No failed attempts recorded"))
		return nil
	}
	status := RenderStatus("ok")
	if locked {
		status = RenderStatus("locked")
	}
	printField("Status", status)
	printField("Failed attempts", st.FailedAttempts)
	printField("Consecutive failures", st.Streak)
	printField("Lockouts", st.Lockouts)
	if !st.LastFailure.IsZero() {
		printField("Last failure", st.LastFailure.Format(time.DateTime))
	}
	if locked {
		printField("Blocked until", st.BlockedUntil.Format(time.DateTime))
	}
	return nil
}

func handleLockoutUnlock(args Args, sec *security.Context, user string) error {
	cleared := sec.Guard.Unlock(user)
	if args.JSON {
		return NewJSONResponse("lockout unlock", map[string]any{"username": user, "cleared": cleared}).Print()
	}
	if !cleared {
		args.info("%s No lockout state for %s", RenderStatus("info"), user)
		return nil
	}
	args.info("%s Lockout cleared for %s", RenderStatus("ok"), user)
	return nil
}

// nonNil keeps JSON arrays from rendering as null.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
