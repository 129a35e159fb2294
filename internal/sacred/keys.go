package sacred

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"
)

// KeyProvider supplies the operator's secondary approval key.
type KeyProvider interface {
	Key() (string, error)
}

// EnvKeyProvider reads the key from an environment variable and enforces the
// strength policy once per loaded value; a rotated key is re-checked when it
// first appears. The key never appears in logs or errors.
type EnvKeyProvider struct {
	envVar    string
	minLength int

	mu       sync.Mutex
	checked  string
	checkErr error
}

// NewEnvKeyProvider builds a provider reading envVar, rejecting keys shorter
// than minLength.
func NewEnvKeyProvider(envVar string, minLength int) *EnvKeyProvider {
	return &EnvKeyProvider{envVar: envVar, minLength: minLength}
}

// Key returns the configured key or an error describing what the policy
// rejected, never echoing the key itself.
func (p *EnvKeyProvider) Key() (string, error) {
	key := os.Getenv(p.envVar)
	if key == "" {
		return "", fmt.Errorf("secondary approval key not set (expected in %s)", p.envVar)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if key != p.checked {
		p.checked = key
		p.checkErr = CheckKeyStrength(key, p.minLength)
	}
	if p.checkErr != nil {
		return "", fmt.Errorf("secondary approval key in %s rejected: %w", p.envVar, p.checkErr)
	}
	return key, nil
}

// weakSubstrings are fragments that disqualify a key outright regardless of
// length.
var weakSubstrings = []string{
	"password", "12345678", "qwerty", "letmein", "changeme", "secret",
}

// CheckKeyStrength enforces the key policy: minimum length, at least three
// character classes, and no well-known weak fragments.
func CheckKeyStrength(key string, minLength int) error {
	if len(key) < minLength {
		return fmt.Errorf("key too short: %d characters (minimum %d)", len(key), minLength)
	}

	var hasLower, hasUpper, hasDigit, hasOther bool
	for _, r := range key {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasOther = true
		}
	}
	classes := 0
	for _, has := range []bool{hasLower, hasUpper, hasDigit, hasOther} {
		if has {
			classes++
		}
	}
	if classes < 3 {
		return fmt.Errorf("key uses %d character classes (minimum 3 of lower/upper/digit/symbol)", classes)
	}

	lowered := strings.ToLower(key)
	for _, weak := range weakSubstrings {
		if strings.Contains(lowered, weak) {
			return fmt.Errorf("key contains a well-known weak fragment")
		}
	}
	return nil
}

// constantTimeEqual compares two strings without leaking the position of the
// first differing byte.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
