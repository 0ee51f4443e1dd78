// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MaxUsernameLength is the longest accepted username, in runes.
const MaxUsernameLength = 64

// NormalizeUsername maps equivalent spellings of a username to one key:
// NFKC normalization, surrounding whitespace trimmed, case folded. Names
// with control characters, inner whitespace or ':' are rejected.
func NormalizeUsername(username string) (string, error) {
	n := norm.NFKC.String(strings.TrimSpace(username))
	// Casers are stateful and must not be shared between goroutines.
	n = cases.Fold().String(n)

	if n == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUsername)
	}
	if utf8.RuneCountInString(n) > MaxUsernameLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidUsername, MaxUsernameLength)
	}
	for _, r := range n {
		if unicode.IsControl(r) || unicode.IsSpace(r) || r == ':' {
			return "", fmt.Errorf("%w: contains %q", ErrInvalidUsername, r)
		}
	}
	return n, nil
}
