// Package secrets generates deployment credentials and stores them in an
// encrypted file vault.
package secrets

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/homesteadops/homestead/pkg/engine"
)

const (
	alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	symbols      = "!@#$%^&*()-_=+[]{}<>?"
)

// GeneratePassword produces a cryptographically random password honoring the
// policy. Lengths below 8 are rejected.
func GeneratePassword(policy engine.PasswordPolicy) (string, error) {
	if policy.Length < 8 {
		return "", engine.NewValidationError(
			fmt.Sprintf("password length %d is below the minimum of 8", policy.Length))
	}

	charset := alphanumeric
	if policy.Symbols {
		charset += symbols
	}

	out := make([]byte, policy.Length)
	max := big.NewInt(int64(len(charset)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		out[i] = charset[n.Int64()]
	}
	return string(out), nil
}
