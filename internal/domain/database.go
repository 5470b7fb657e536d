package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	maxDatabaseNameLen = 64
	maxDatabaseUserLen = 32
	userHashLen        = 8

	// DatabasePasswordLen is the length of generated tenant database passwords.
	DatabasePasswordLen = 32
)

// Quote characters and backslashes are left out so the password can be
// embedded in SQL string literals.
const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()-_=+[]{}<>~"

// DatabaseCredentials identify a tenant database and the credential scoped to it.
type DatabaseCredentials struct {
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// SanitizeDatabaseName maps name onto [A-Za-z0-9_]: hyphens become
// underscores, anything else is dropped. Names not starting with a letter
// get a "db_" prefix, and the result is capped at 64 characters.
func SanitizeDatabaseName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-':
			b.WriteByte('_')
		}
	}

	out := b.String()
	if out == "" || !isLetter(out[0]) {
		out = "db_" + out
	}
	if len(out) > maxDatabaseNameLen {
		out = out[:maxDatabaseNameLen]
	}
	return out
}

// DatabaseUser derives the credential name for a sanitized database name.
// Names longer than the account limit keep a prefix and end in a hash of
// the whole name, so two long names sharing a prefix map to different
// accounts. The result is stable under a second call.
func DatabaseUser(database string) string {
	user := SanitizeDatabaseName(database)
	if len(user) <= maxDatabaseUserLen {
		return user
	}
	sum := sha256.Sum256([]byte(user))
	suffix := "_" + hex.EncodeToString(sum[:])[:userHashLen]
	return user[:maxDatabaseUserLen-len(suffix)] + suffix
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// GeneratePassword returns a random password of n characters drawn from a
// mixed-class alphabet.
func GeneratePassword(n int) (string, error) {
	size := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generating password: %w", err)
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}
