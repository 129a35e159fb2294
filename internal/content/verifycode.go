package content

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Verification code shape: <8 hex random component>-<12 hex content hash prefix>.
// The random component is generated once at plan creation and persisted with
// the plan, so the code is reproducible from the stored record but cannot be
// derived from the plan id and title alone.
const (
	randomComponentBytes = 4  // 8 hex chars
	hashPrefixLen        = 12 // 12 hex chars of the content hash
)

// NewRandomComponent generates the per-plan random component of the
// verification code from a CSPRNG.
func NewRandomComponent() (string, error) {
	buf := make([]byte, randomComponentBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random component: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// VerificationCode derives the approval verification code from a plan's
// stored random component and content hash. Deterministic for a given plan.
func VerificationCode(randomComponent, contentHash string) string {
	prefix := contentHash
	if len(prefix) > hashPrefixLen {
		prefix = prefix[:hashPrefixLen]
	}
	return randomComponent + "-" + prefix
}
