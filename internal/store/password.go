package store

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Password hashing parameters. Changing them invalidates stored hashes, so
// they are fixed: PBKDF2-HMAC-SHA256, 100k rounds, 16-byte salt.
const (
	pbkdf2Iterations = 100_000
	saltLength       = 16
)

// HashPassword derives a PBKDF2 hash of the password under a fresh random
// salt. Both return values are hex encoded.
func HashPassword(password string) (hash, salt string, err error) {
	rawSalt := make([]byte, saltLength)
	if _, err := rand.Read(rawSalt); err != nil {
		return "", "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), rawSalt, pbkdf2Iterations, sha256.Size, sha256.New)
	return hex.EncodeToString(key), hex.EncodeToString(rawSalt), nil
}

// VerifyPassword reports whether password matches the stored hash and salt.
// The comparison is constant time.
func VerifyPassword(password, hash, salt string) bool {
	rawSalt, err := hex.DecodeString(salt)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(hash)
	if err != nil || len(want) == 0 {
		return false
	}

	got := pbkdf2.Key([]byte(password), rawSalt, pbkdf2Iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
