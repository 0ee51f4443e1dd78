// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// LEVELS
// =============================================================================

// Level is the severity of an audit event.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel accepts INFO, WARNING or CRITICAL in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "CRITICAL":
		return LevelCritical, nil
	default:
		return 0, fmt.Errorf("unknown audit level %q", s)
	}
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// =============================================================================
// ACTIONS
// =============================================================================

// Actions recorded by the authentication subsystem.
const (
	ActionLoginSuccess        = "LOGIN_SUCCESS"
	ActionLoginFailed         = "LOGIN_FAILED"
	ActionAccountLocked       = "ACCOUNT_LOCKED"
	ActionLoginRejectedLocked = "LOGIN_REJECTED_LOCKED"
	ActionAccountUnlocked     = "ACCOUNT_UNLOCKED"
	ActionUserRegistered      = "USER_REGISTERED"
	ActionUserDeleted         = "USER_DELETED"
	ActionPasswordChanged     = "PASSWORD_CHANGED"
	ActionRoleChanged         = "ROLE_CHANGED"
	ActionMFAEnrolled         = "MFA_ENROLLED"
	ActionCredentialCorrupt   = "CREDENTIAL_CORRUPT"
	ActionKeyManagement       = "KEY_MANAGEMENT"
	ActionAuditOpened         = "AUDIT_OPENED"
	ActionAuditTamper         = "AUDIT_TAMPER"
	ActionPatternAlert        = "PATTERN_ALERT"
	ActionDistributedAlert    = "DISTRIBUTED_PATTERN_ALERT"
)

// failedLoginActions are the actions counted by pattern analysis. Each
// rejected authentication attempt produces exactly one of them.
var failedLoginActions = map[string]bool{
	ActionLoginFailed:         true,
	ActionAccountLocked:       true,
	ActionLoginRejectedLocked: true,
}

// IsFailedLogin reports whether ev records a rejected authentication attempt.
func IsFailedLogin(ev Event) bool {
	return ev.Subject != "" && failedLoginActions[ev.Action]
}

// =============================================================================
// EVENT
// =============================================================================

// Event is one audit record. Events are immutable once appended.
type Event struct {
	ID        uint64            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Origin    string            `json:"origin"`
	Subject   string            `json:"subject,omitempty"`
	Action    string            `json:"action,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// TimestampFormat is the human-readable timestamp used in log lines.
const TimestampFormat = "2006-01-02 15:04:05"

// Line renders the event the way operators read it:
//
//	[2025-01-23 10:30:00] [WARNING] Failed login (action=LOGIN_FAILED node=n1 user=alice)
func (e Event) Line() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] [%s] %s", e.Timestamp.Format(TimestampFormat), e.Level, e.Message)

	var attrs []string
	if e.Action != "" {
		attrs = append(attrs, "action="+e.Action)
	}
	if e.Origin != "" {
		attrs = append(attrs, "node="+e.Origin)
	}
	if e.Subject != "" {
		attrs = append(attrs, "user="+e.Subject)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k+"="+e.Details[k])
	}
	if len(attrs) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(attrs, " "))
		sb.WriteString(")")
	}
	return sb.String()
}

// key identifies an event across nodes.
func (e Event) key() string {
	return fmt.Sprintf("%s/%d", e.Origin, e.ID)
}

func (e Event) clone() Event {
	if e.Details != nil {
		details := make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			details[k] = v
		}
		e.Details = details
	}
	return e
}

// =============================================================================
// APPEND OPTIONS
// =============================================================================

// EventOption sets optional structured fields on an appended event.
type EventOption func(*Event)

// WithSubject records the username the event is about.
func WithSubject(user string) EventOption {
	return func(e *Event) { e.Subject = user }
}

// WithAction tags the event with one of the Action constants.
func WithAction(action string) EventOption {
	return func(e *Event) { e.Action = action }
}

// WithDetails attaches key/value details. The map is copied.
func WithDetails(details map[string]string) EventOption {
	return func(e *Event) {
		if len(details) == 0 {
			return
		}
		if e.Details == nil {
			e.Details = make(map[string]string, len(details))
		}
		for k, v := range details {
			e.Details[k] = v
		}
	}
}
