// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jeranaias/authguard/internal/security/audit"
	"github.com/jeranaias/authguard/internal/util"
)

// =============================================================================
// POLICY
// =============================================================================

// Policy controls lockout escalation (NIST 800-53 AC-7).
type Policy struct {
	// MaxAttempts is the number of consecutive failures that locks an account.
	MaxAttempts int

	// InitialBlock is the first lockout duration.
	InitialBlock time.Duration

	// CooldownIncrement is added for every failure past MaxAttempts since
	// the last successful login.
	CooldownIncrement time.Duration
}

// DefaultPolicy returns 5 attempts, a 60s first block and 30s increments.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       5,
		InitialBlock:      60 * time.Second,
		CooldownIncrement: 30 * time.Second,
	}
}

// BlockDuration returns the lockout length after streak consecutive failures.
func (p Policy) BlockDuration(streak int) time.Duration {
	over := streak - p.MaxAttempts
	if over < 0 {
		over = 0
	}
	return p.InitialBlock + time.Duration(over)*p.CooldownIncrement
}

// =============================================================================
// LOGIN STATE
// =============================================================================

// LoginState is the per-username lockout record.
type LoginState struct {
	// FailedAttempts counts failures in the current cycle. It is cleared by
	// a success or when a lockout expires.
	FailedAttempts int `json:"failed_attempts"`

	// Streak counts failures since the last success and drives escalation.
	Streak int `json:"streak"`

	// BlockedUntil is zero while unlocked.
	BlockedUntil time.Time `json:"blocked_until,omitempty"`

	// LastFailure is the time of the most recent failure.
	LastFailure time.Time `json:"last_failure,omitempty"`

	// Lockouts is the number of lockouts since the guard started.
	Lockouts int `json:"lockouts"`
}

// LockedAt reports whether the state blocks attempts at now.
func (s LoginState) LockedAt(now time.Time) bool {
	return !s.BlockedUntil.IsZero() && now.Before(s.BlockedUntil)
}

// =============================================================================
// RESULT
// =============================================================================

// Outcome classifies an authentication attempt.
type Outcome int

const (
	// OutcomeRejected means wrong credentials, or an unknown user.
	OutcomeRejected Outcome = iota
	// OutcomeAuthenticated means the credentials matched.
	OutcomeAuthenticated
	// OutcomeLocked means the account is locked, either already or by this attempt.
	OutcomeLocked
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "AUTHENTICATED"
	case OutcomeLocked:
		return "LOCKED"
	default:
		return "REJECTED"
	}
}

// Result is what the caller learns about an attempt. It never reveals
// whether the username exists.
type Result struct {
	Outcome           Outcome
	RemainingAttempts int
	RetryAfter        time.Duration
	LockedUntil       time.Time
}

// Authenticated reports whether the attempt succeeded.
func (r Result) Authenticated() bool {
	return r.Outcome == OutcomeAuthenticated
}

// Err returns nil, ErrInvalidCredentials or ErrLocked.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomeAuthenticated:
		return nil
	case OutcomeLocked:
		return ErrLocked
	default:
		return ErrInvalidCredentials
	}
}

// Message renders the result for an operator.
func (r Result) Message() string {
	switch r.Outcome {
	case OutcomeAuthenticated:
		return "Authentication successful"
	case OutcomeLocked:
		return fmt.Sprintf("Account locked. Try again in %s", r.RetryAfter.Round(time.Second))
	default:
		return fmt.Sprintf("Invalid username or password (%d attempts remaining)", r.RemainingAttempts)
	}
}

// =============================================================================
// LOGIN GUARD
// =============================================================================

// Verifier checks a password. *CredentialStore implements it.
type Verifier interface {
	VerifyPassword(username, password string) (bool, error)
}

// GuardStats summarizes guard activity.
type GuardStats struct {
	Tracked   int
	Locked    int
	Lockouts  int
	Successes uint64
	Failures  uint64
}

// LoginGuard enforces lockout and escalating cooldowns in front of a
// CredentialStore. One mutex serializes every state transition, so
// concurrent attempts for a user are processed one at a time.
type LoginGuard struct {
	mu        sync.Mutex
	store     *CredentialStore
	verifier  Verifier
	auditor   Auditor
	policy    Policy
	now       func() time.Time
	logger    *slog.Logger
	states    map[string]*LoginState
	successes uint64
	failures  uint64
}

// GuardOption configures a LoginGuard.
type GuardOption func(*LoginGuard)

// WithPolicy sets the lockout policy. Invalid fields keep their defaults.
func WithPolicy(p Policy) GuardOption {
	return func(g *LoginGuard) {
		if p.MaxAttempts > 0 {
			g.policy.MaxAttempts = p.MaxAttempts
		}
		if p.InitialBlock > 0 {
			g.policy.InitialBlock = p.InitialBlock
		}
		if p.CooldownIncrement >= 0 {
			g.policy.CooldownIncrement = p.CooldownIncrement
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) GuardOption {
	return func(g *LoginGuard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithVerifier replaces the password check. The store is still used for
// management operations and the second factor.
func WithVerifier(v Verifier) GuardOption {
	return func(g *LoginGuard) {
		if v != nil {
			g.verifier = v
		}
	}
}

// WithAuditor sets where authentication events are recorded.
func WithAuditor(a Auditor) GuardOption {
	return func(g *LoginGuard) {
		if a != nil {
			g.auditor = a
		}
	}
}

// WithLogger sets the operational logger for verification faults. Faults
// never change the Result a caller sees.
func WithLogger(l *slog.Logger) GuardOption {
	return func(g *LoginGuard) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewLoginGuard creates a guard over store.
func NewLoginGuard(store *CredentialStore, opts ...GuardOption) *LoginGuard {
	g := &LoginGuard{
		store:    store,
		verifier: store,
		auditor:  discardAuditor{},
		policy:   DefaultPolicy(),
		now:      time.Now,
		logger:   slog.Default(),
		states:   make(map[string]*LoginState),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the active lockout policy.
func (g *LoginGuard) Policy() Policy {
	return g.policy
}

// Authenticate checks a username and password.
func (g *LoginGuard) Authenticate(username, password string) Result {
	return g.authenticate(username, password, "", false)
}

// AuthenticateWithCode checks a password plus a TOTP code. Users without
// an enrolled second factor only need the password.
func (g *LoginGuard) AuthenticateWithCode(username, password, code string) Result {
	return g.authenticate(username, password, code, true)
}

func (g *LoginGuard) authenticate(username, password, code string, withCode bool) Result {
	key, subject := g.identify(username)

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	st := g.stateLocked(key)

	if !st.BlockedUntil.IsZero() {
		if st.LockedAt(now) {
			retry := st.BlockedUntil.Sub(now)
			g.auditor.Append(audit.LevelWarning, "Login rejected: account locked",
				audit.WithSubject(subject),
				audit.WithAction(audit.ActionLoginRejectedLocked),
				audit.WithDetails(map[string]string{
					"locked_until": st.BlockedUntil.UTC().Format(time.RFC3339),
					"retry_after":  retry.Round(time.Second).String(),
				}))
			return Result{Outcome: OutcomeLocked, RetryAfter: retry, LockedUntil: st.BlockedUntil}
		}
		st.BlockedUntil = time.Time{}
		st.FailedAttempts = 0
		g.auditor.Append(audit.LevelInfo, "Lockout expired",
			audit.WithSubject(subject),
			audit.WithAction(audit.ActionAccountUnlocked),
			audit.WithDetails(map[string]string{"reason": "expired"}))
	}

	ok, err := g.verifier.VerifyPassword(username, password)
	if err != nil && !errors.Is(err, ErrCredentialNotFound) {
		g.logger.Error("password verification fault", "user", subject, "error", err)
	}
	if ok && g.store != nil && g.store.HasTOTP(key) {
		if !withCode || code == "" {
			ok = false
		} else {
			valid, err := g.store.verifyTOTPAt(key, code, now)
			if err != nil {
				g.logger.Error("totp verification fault", "user", subject, "error", err)
			}
			ok = valid
		}
	}

	if ok {
		st.FailedAttempts = 0
		st.Streak = 0
		st.LastFailure = time.Time{}
		g.successes++
		g.auditor.Append(audit.LevelInfo, "Login successful",
			audit.WithSubject(subject),
			audit.WithAction(audit.ActionLoginSuccess))
		return Result{Outcome: OutcomeAuthenticated, RemainingAttempts: g.policy.MaxAttempts}
	}

	st.FailedAttempts++
	st.Streak++
	st.LastFailure = now
	g.failures++

	if st.Streak >= g.policy.MaxAttempts {
		block := g.policy.BlockDuration(st.Streak)
		st.BlockedUntil = now.Add(block)
		st.Lockouts++
		g.auditor.Append(audit.LevelCritical, "Account locked after repeated failed logins",
			audit.WithSubject(subject),
			audit.WithAction(audit.ActionAccountLocked),
			audit.WithDetails(map[string]string{
				"attempts":     strconv.Itoa(st.FailedAttempts),
				"streak":       strconv.Itoa(st.Streak),
				"duration":     block.String(),
				"locked_until": st.BlockedUntil.UTC().Format(time.RFC3339),
			}))
		return Result{Outcome: OutcomeLocked, RetryAfter: block, LockedUntil: st.BlockedUntil}
	}

	remaining := g.policy.MaxAttempts - st.Streak
	g.auditor.Append(audit.LevelWarning, "Failed login",
		audit.WithSubject(subject),
		audit.WithAction(audit.ActionLoginFailed),
		audit.WithDetails(map[string]string{
			"attempts":  fmt.Sprintf("%d/%d", st.Streak, g.policy.MaxAttempts),
			"remaining": strconv.Itoa(remaining),
		}))
	return Result{Outcome: OutcomeRejected, RemainingAttempts: remaining}
}

// identify returns the state key and the audit subject for a username.
// Names that fail normalization are tracked under their raw spelling and
// logged masked.
func (g *LoginGuard) identify(username string) (key, subject string) {
	key, err := NormalizeUsername(username)
	if err != nil {
		return username, util.MaskIdentifier(username)
	}
	return key, key
}

func (g *LoginGuard) stateLocked(key string) *LoginState {
	st, ok := g.states[key]
	if !ok {
		st = &LoginState{}
		g.states[key] = st
	}
	return st
}

// =============================================================================
// MANAGEMENT
// =============================================================================

// Register adds a user.
func (g *LoginGuard) Register(username, password string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.Register(username, password); err != nil {
		return err
	}
	key, _ := NormalizeUsername(username)
	g.auditor.Append(audit.LevelInfo, "User registered",
		audit.WithSubject(key), audit.WithAction(audit.ActionUserRegistered))
	return nil
}

// ChangePassword replaces a user's password after checking the old one.
// A wrong old password counts as a failed login.
func (g *LoginGuard) ChangePassword(username, oldPassword, newPassword string) error {
	if res := g.Authenticate(username, oldPassword); !res.Authenticated() {
		return res.Err()
	}
	return g.SetPassword(username, newPassword)
}

// SetPassword replaces a user's password without the old one (admin reset).
func (g *LoginGuard) SetPassword(username, newPassword string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.ChangePassword(username, newPassword); err != nil {
		return err
	}
	key, _ := NormalizeUsername(username)
	g.auditor.Append(audit.LevelInfo, "Password changed",
		audit.WithSubject(key), audit.WithAction(audit.ActionPasswordChanged))
	return nil
}

// DeleteUser removes a user and its lockout state.
func (g *LoginGuard) DeleteUser(username string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.Delete(username); err != nil {
		return err
	}
	key, _ := NormalizeUsername(username)
	delete(g.states, key)
	g.auditor.Append(audit.LevelWarning, "User deleted",
		audit.WithSubject(key), audit.WithAction(audit.ActionUserDeleted))
	return nil
}

// AssignRole grants role to a user.
func (g *LoginGuard) AssignRole(username, role string) error {
	return g.changeRole(username, role, true)
}

// RevokeRole removes role from a user.
func (g *LoginGuard) RevokeRole(username, role string) error {
	return g.changeRole(username, role, false)
}

func (g *LoginGuard) changeRole(username, role string, grant bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	change := "revoke"
	var err error
	if grant {
		change = "assign"
		err = g.store.AssignRole(username, role)
	} else {
		err = g.store.RevokeRole(username, role)
	}
	if err != nil {
		return err
	}
	key, _ := NormalizeUsername(username)
	g.auditor.Append(audit.LevelInfo, "Role changed",
		audit.WithSubject(key),
		audit.WithAction(audit.ActionRoleChanged),
		audit.WithDetails(map[string]string{"role": role, "change": change}))
	return nil
}

// EnrollTOTP enrolls a second factor and returns its otpauth URL.
func (g *LoginGuard) EnrollTOTP(username, issuer string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	url, err := g.store.EnrollTOTP(username, issuer)
	if err != nil {
		return "", err
	}
	key, _ := NormalizeUsername(username)
	g.auditor.Append(audit.LevelInfo, "MFA enrolled",
		audit.WithSubject(key), audit.WithAction(audit.ActionMFAEnrolled))
	return url, nil
}

// Unlock clears a user's lockout and escalation (administrative release).
// It reports whether the user had any state to clear.
func (g *LoginGuard) Unlock(username string) bool {
	key, subject := g.identify(username)

	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[key]
	if !ok {
		return false
	}
	lockouts := st.Lockouts
	*st = LoginState{Lockouts: lockouts}
	g.auditor.Append(audit.LevelWarning, "Account unlocked by administrator",
		audit.WithSubject(subject),
		audit.WithAction(audit.ActionAccountUnlocked),
		audit.WithDetails(map[string]string{"reason": "admin"}))
	return true
}

// =============================================================================
// QUERIES
// =============================================================================

// State returns a copy of the user's lockout state.
func (g *LoginGuard) State(username string) (LoginState, bool) {
	key, _ := g.identify(username)
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[key]
	if !ok {
		return LoginState{}, false
	}
	return *st, true
}

// Locked returns the users locked right now, sorted.
func (g *LoginGuard) Locked() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	var out []string
	for key, st := range g.states {
		if st.LockedAt(now) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// Stats returns counters for status displays.
func (g *LoginGuard) Stats() GuardStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	stats := GuardStats{Tracked: len(g.states), Successes: g.successes, Failures: g.failures}
	for _, st := range g.states {
		if st.LockedAt(now) {
			stats.Locked++
		}
		stats.Lockouts += st.Lockouts
	}
	return stats
}

// Store returns the underlying credential store.
func (g *LoginGuard) Store() *CredentialStore {
	return g.store
}
