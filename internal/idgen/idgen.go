// Package idgen generates identifiers for invocations and requests.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns a prefixed random id, e.g. WithPrefix("inv_") gives
// "inv_" followed by 24 hex chars.
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
