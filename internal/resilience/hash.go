package resilience

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the lowercase hex SHA-256 digest of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ContentHashString hashes the UTF-8 bytes of s, so it agrees with
// ContentHash([]byte(s)).
func ContentHashString(s string) string {
	return ContentHash([]byte(s))
}
