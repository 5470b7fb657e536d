package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// generateToken returns prefix followed by n random bytes in hex.
func generateToken(prefix string, n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return prefix + hex.EncodeToString(b), nil
}
