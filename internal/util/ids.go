// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewNodeID returns a random node identifier used when neither the config
// nor the hostname provide one.
func NewNodeID() string {
	return "node-" + uuid.NewString()[:8]
}

// NewID returns a random unique identifier.
func NewID() string {
	return uuid.NewString()
}

// MaskIdentifier hashes an identifier for display in places where the raw
// value must not appear, e.g. failed usernames in operational logs.
func MaskIdentifier(id string) string {
	h := sha256.Sum256([]byte(id))
	return "hash:" + hex.EncodeToString(h[:])[:12]
}
