// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types, display and exit codes for authguard commands.
//
// Handlers always return errors; main decides how to display them and
// which exit code to use.

package cli

import (
	"errors"
	"fmt"

	"github.com/jeranaias/authguard/internal/config"
	"github.com/jeranaias/authguard/internal/security/auth"
	"github.com/jeranaias/authguard/internal/security/crypto"
	"github.com/jeranaias/authguard/internal/security/network"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitSecurityError = 6
	ExitNotFoundError = 7
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError is returned for malformed command lines.
type UsageError struct {
	Message string
	Usage   string
}

func (e *UsageError) Error() string {
	if e.Usage == "" {
		return e.Message
	}
	return e.Message + "\n\nUsage:\n" + e.Usage
}

// ValidationError is returned for an invalid argument value.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s '%s': %s", e.Field, e.Value, e.Reason)
}

// NewUsageError builds a UsageError.
func NewUsageError(message, usage string) error {
	return &UsageError{Message: message, Usage: usage}
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// ErrMissingArgument reports a required positional argument.
func ErrMissingArgument(argName, usage string) error {
	return NewUsageError(argName+" is required", usage)
}

// ErrIntegrityMismatch is returned when a digest does not match.
var ErrIntegrityMismatch = errors.New("integrity check failed")

// reportedError carries an error whose details were already printed. It
// still sets the exit code.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError prints err to stderr, or as a JSON envelope on stdout.
func DisplayError(err error, jsonMode bool) {
	var reported *reportedError
	if err == nil || errors.As(err, &reported) {
		return
	}
	if jsonMode {
		resp := NewJSONErrorResponse("", err)
		resp.Data = map[string]any{"error_type": errorType(err), "exit_code": GetExitCode(err)}
		resp.Print()
		return
	}
	fmt.Fprintf(stderr, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

func errorType(err error) string {
	var usage *UsageError
	var validation *ValidationError
	switch {
	case errors.As(err, &usage):
		return "usage_error"
	case errors.As(err, &validation):
		return "validation_error"
	case errors.Is(err, config.ErrConfiguration):
		return "config_error"
	case errors.Is(err, auth.ErrLocked), errors.Is(err, auth.ErrInvalidCredentials):
		return "auth_error"
	default:
		return "generic_error"
	}
}

// GetExitCode maps an error to the process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	var validation *ValidationError
	var tty *TTYRequiredError
	switch {
	case errors.As(err, &usage), errors.As(err, &validation), errors.As(err, &tty),
		errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidPassword):
		return ExitUsageError
	case errors.Is(err, config.ErrConfiguration), errors.Is(err, crypto.ErrInvalidKeyMaterial):
		return ExitConfigError
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrLocked):
		return ExitAuthError
	case errors.Is(err, network.ErrDeliveryFailed):
		return ExitNetworkError
	case errors.Is(err, crypto.ErrDecryptFailure), errors.Is(err, ErrIntegrityMismatch):
		return ExitSecurityError
	case errors.Is(err, crypto.ErrKeyNotFound), errors.Is(err, auth.ErrCredentialNotFound):
		return ExitNotFoundError
	}
	return ExitGeneralError
}
