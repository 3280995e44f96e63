// Package uid generates collision-resistant identifiers for stored entities.
//
// Identifiers are a fixed short prefix followed by lowercase hex, so they
// always match ^\w+$ and sort/group nicely in logs and storage keys.
package uid

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// New returns a fresh identifier with the given prefix.
//
// The random part is a full 128-bit UUID rendered as 32 hex characters.
// Prefix is lowercased; callers should keep it to one or two letters
// (e.g. "e" for events, "j" for jobs).
func New(prefix string) string {
	u := uuid.New()
	return strings.ToLower(prefix) + hex.EncodeToString(u[:])
}
