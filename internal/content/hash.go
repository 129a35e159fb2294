// Package content provides deterministic hashing, size-bounded chunking and
// verification code derivation for governed plan text.
package content

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the hex-encoded SHA-256 digest of the raw content bytes.
// Used both as part of the plan identifier and as the tamper-evidence value.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the content hash and compares it with the expected value.
func Verify(content, expectedHash string) bool {
	return Hash(content) == expectedHash
}
