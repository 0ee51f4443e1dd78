// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"strings"
)

// Redactor removes secrets from text before it reaches the audit trail.
type Redactor interface {
	Redact(input string) string
}

// PatternRedactor redacts text matching a regex pattern.
type PatternRedactor struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

// NewPatternRedactor creates a new pattern-based redactor.
func NewPatternRedactor(name string, pattern *regexp.Regexp, replace string) *PatternRedactor {
	return &PatternRedactor{name: name, pattern: pattern, replace: replace}
}

func (r *PatternRedactor) Redact(input string) string {
	return r.pattern.ReplaceAllString(input, r.replace)
}

// Name returns the redactor name.
func (r *PatternRedactor) Name() string {
	return r.name
}

var secretPatterns = []struct {
	name    string
	pattern *regexp.Regexp
	replace string
}{
	{"Password", regexp.MustCompile(`(?i)(password|passwd|pwd|secret)\s*[=:]\s*\S+`), "[PASSWORD_REDACTED]"},
	{"Bearer", regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-_.]+`), "Bearer [TOKEN_REDACTED]"},
	{"JWT", regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), "[JWT_REDACTED]"},
	{"OTPAuth", regexp.MustCompile(`otpauth://\S+`), "[OTPAUTH_REDACTED]"},
}

func defaultRedactors() []Redactor {
	redactors := make([]Redactor, 0, len(secretPatterns))
	for _, sp := range secretPatterns {
		redactors = append(redactors, NewPatternRedactor(sp.name, sp.pattern, sp.replace))
	}
	return redactors
}

// KeyRedactor replaces every known encoding of the configured key material
// (raw, hex in either case, base64) so keys never reach plaintext output.
type KeyRedactor struct {
	needles []string
}

// NewKeyRedactor builds a redactor for the given secrets. Empty secrets are
// ignored.
func NewKeyRedactor(secrets ...[]byte) *KeyRedactor {
	r := &KeyRedactor{}
	for _, s := range secrets {
		if len(s) == 0 {
			continue
		}
		h := hex.EncodeToString(s)
		r.needles = append(r.needles,
			string(s),
			h,
			strings.ToUpper(h),
			base64.StdEncoding.EncodeToString(s),
		)
	}
	return r
}

func (r *KeyRedactor) Redact(input string) string {
	for _, n := range r.needles {
		if n != "" && strings.Contains(input, n) {
			input = strings.ReplaceAll(input, n, "[KEY_REDACTED]")
		}
	}
	return input
}
