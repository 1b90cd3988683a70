package api

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const (
	nonceLength = 32
	charset     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewTodoID generates a new random todo ID.
func NewTodoID() string {
	return uuid.NewString()
}

// IsUUID reports whether id is a UUID in its canonical 36-character form.
// Todo IDs and access token IDs both use this form.
func IsUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

// ValidateTodoID reports whether id is a well-formed todo ID.
func ValidateTodoID(id string) bool {
	return IsUUID(id)
}

// NewNonceValue returns 32 cryptographically random alphanumeric characters
// (about 190 bits of entropy).
func NewNonceValue() string {
	return randomAlphanumeric(nonceLength)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
