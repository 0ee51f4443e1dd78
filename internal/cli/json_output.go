// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - JSON output for SIEM integration (AU-6).
//
// Every command accepts --json and then prints one JSONResponse envelope
// on stdout.

package cli

import (
	"encoding/json"
	"time"
)

// JSONResponse is the envelope for machine-readable output.
type JSONResponse struct {
	Success   bool    `json:"success"`
	Data      any     `json:"data"`
	Error     *string `json:"error"`
	Timestamp string  `json:"timestamp"`
	Command   string  `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a failed response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{
		Success:   false,
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Print writes the response to stdout.
func (r *JSONResponse) Print() error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// =============================================================================
// COMMAND DATA
// =============================================================================

// VersionData is the payload of "version --json".
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// LoginData is the payload of "login --json".
type LoginData struct {
	Username          string `json:"username"`
	Outcome           string `json:"outcome"`
	RemainingAttempts int    `json:"remaining_attempts"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	LockedUntil       string `json:"locked_until,omitempty"`
}

// LockoutStatusData is the payload of "lockout status --json".
type LockoutStatusData struct {
	MaxAttempts       int      `json:"max_attempts"`
	InitialBlock      string   `json:"initial_block"`
	CooldownIncrement string   `json:"cooldown_increment"`
	Tracked           int      `json:"tracked"`
	Locked            []string `json:"locked"`
	TotalLockouts     int      `json:"total_lockouts"`
	Successes         uint64   `json:"successes"`
	Failures          uint64   `json:"failures"`
}

// UserData describes one account in "user list --json".
type UserData struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	MFA      bool     `json:"mfa"`
	Locked   bool     `json:"locked"`
}

// KeyData describes one managed key in "keys list --json".
type KeyData struct {
	ID        string `json:"id"`
	Version   int    `json:"version"`
	CreatedAt string `json:"created_at"`
	RotatedAt string `json:"rotated_at,omitempty"`
}
